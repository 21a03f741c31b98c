package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"intraday-systemv1/internal/model"
	"intraday-systemv1/pkg/kiteconnect"
)

type fakeSource struct {
	mu         sync.Mutex
	onTick     func(kiteconnect.Tick)
	failFirst  int // number of initial Connect calls that fail
	connects   int
	subscribes int
	serveErrCh chan error
}

func newFakeSource(failFirst int) *fakeSource {
	return &fakeSource{failFirst: failFirst, serveErrCh: make(chan error)}
}

func (s *fakeSource) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connects <= s.failFirst {
		return errors.New("connection refused")
	}
	return nil
}

func (s *fakeSource) Subscribe([]uint32, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	return nil
}

func (s *fakeSource) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.serveErrCh:
		return err
	}
}

func (s *fakeSource) Close() {}

func (s *fakeSource) SetOnTick(fn func(kiteconnect.Tick)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

func (s *fakeSource) emit(t kiteconnect.Tick) {
	s.mu.Lock()
	fn := s.onTick
	s.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func testFeedConfig() Config {
	return Config{
		Instruments: []model.Instrument{
			{Symbol: "SBIN", Exchange: "NSE", Token: 779521},
			{Symbol: "INFY", Exchange: "NSE", Token: 408065},
		},
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		DegradedAfter: 3,
		StaleAfter:    time.Second,
		PollInterval:  5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFeed_StreamsAndTracksFreshness(t *testing.T) {
	src := newFakeSource(0)
	f := New(testFeedConfig(), src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tickCh := make(chan model.Tick, 16)
	go f.Run(ctx, tickCh)

	waitFor(t, "connected state", func() bool { return f.State() == StateConnected })

	if f.Fresh("NSE:SBIN") {
		t.Error("instrument fresh before any tick")
	}

	src.emit(kiteconnect.Tick{Token: 779521, LastPrice: 54_325, LastQty: 10, Timestamp: time.Now()})
	select {
	case tick := <-tickCh:
		if tick.Symbol != "SBIN" || tick.Exchange != "NSE" || tick.Price != 54_325 {
			t.Errorf("tick = %+v", tick)
		}
	case <-time.After(time.Second):
		t.Fatal("no tick received")
	}

	if !f.Fresh("NSE:SBIN") {
		t.Error("instrument not fresh after tick")
	}
	if f.Fresh("NSE:INFY") {
		t.Error("untraded instrument reported fresh")
	}

	// Ticks for unsubscribed tokens are dropped.
	src.emit(kiteconnect.Tick{Token: 999, LastPrice: 100})
	select {
	case tick := <-tickCh:
		t.Errorf("unexpected tick for unknown token: %+v", tick)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFeed_DegradesAfterRepeatedFailures(t *testing.T) {
	src := newFakeSource(1000)
	f := New(testFeedConfig(), src, nil)

	var states []ConnState
	var mu sync.Mutex
	f.OnStateChange = func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx, make(chan model.Tick, 1))

	waitFor(t, "degraded state", func() bool { return f.State() == StateDegraded })

	if f.Attempts() < 3 {
		t.Errorf("attempts = %d, want >= 3", f.Attempts())
	}
	if f.Fresh("NSE:SBIN") {
		t.Error("degraded feed reported fresh data")
	}
}

func TestFeed_ReconnectRestoresConnected(t *testing.T) {
	src := newFakeSource(0)
	f := New(testFeedConfig(), src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx, make(chan model.Tick, 1))

	waitFor(t, "initial connect", func() bool { return f.State() == StateConnected })

	src.serveErrCh <- errors.New("stream reset")
	waitFor(t, "reconnect", func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.subscribes >= 2
	})
	waitFor(t, "connected after drop", func() bool { return f.State() == StateConnected })

	if f.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0 after recovery", f.Attempts())
	}
}

func TestFeed_ReconnectClearsFreshness(t *testing.T) {
	src := newFakeSource(0)
	f := New(testFeedConfig(), src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tickCh := make(chan model.Tick, 16)
	go f.Run(ctx, tickCh)

	waitFor(t, "initial connect", func() bool { return f.State() == StateConnected })

	src.emit(kiteconnect.Tick{Token: 779521, LastPrice: 54_325, Timestamp: time.Now()})
	waitFor(t, "freshness after tick", func() bool { return f.Fresh("NSE:SBIN") })

	src.serveErrCh <- errors.New("stream reset")
	waitFor(t, "reconnect", func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.subscribes >= 2
	})
	waitFor(t, "connected after drop", func() bool { return f.State() == StateConnected })

	// The tick from before the drop must not carry freshness across the
	// reconnect; only a tick streamed on the new connection counts.
	if f.Fresh("NSE:SBIN") {
		t.Error("instrument fresh after reconnect with no new tick")
	}

	src.emit(kiteconnect.Tick{Token: 779521, LastPrice: 54_400, Timestamp: time.Now()})
	waitFor(t, "freshness after post-reconnect tick", func() bool { return f.Fresh("NSE:SBIN") })
}

func TestFeed_BackoffResetsAfterHealthySession(t *testing.T) {
	src := newFakeSource(3)
	cfg := testFeedConfig()
	cfg.BaseBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 2 * time.Second
	f := New(cfg, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx, make(chan model.Tick, 1))

	// Three failed connects inflate the backoff to 400ms before this
	// connection lands.
	waitFor(t, "connect after failures", func() bool { return f.State() == StateConnected })

	src.serveErrCh <- errors.New("stream reset")
	start := time.Now()
	waitFor(t, "reconnect", func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.subscribes >= 2
	})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("reconnect took %v, backoff not reset after healthy session", elapsed)
	}
}

func TestFeed_DegradedQuotePolling(t *testing.T) {
	src := newFakeSource(1000)
	quotes := func(_ context.Context, instruments ...string) (map[string]int64, error) {
		out := make(map[string]int64, len(instruments))
		for _, inst := range instruments {
			out[inst] = 50_000
		}
		return out, nil
	}
	cfg := testFeedConfig()
	cfg.DegradedAfter = 1
	f := New(cfg, src, quotes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tickCh := make(chan model.Tick, 16)
	go f.Run(ctx, tickCh)

	waitFor(t, "degraded state", func() bool { return f.State() == StateDegraded })

	select {
	case tick := <-tickCh:
		if tick.Price != 50_000 {
			t.Errorf("polled tick price = %d, want 50000", tick.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("no polled tick while degraded")
	}

	// Polled quotes keep candles forming but never mark data fresh.
	if f.Fresh("NSE:SBIN") {
		t.Error("polled quote marked instrument fresh")
	}
}

func TestConnStateString(t *testing.T) {
	cases := map[ConnState]string{
		StateConnected:    "CONNECTED",
		StateReconnecting: "RECONNECTING",
		StateDegraded:     "DEGRADED",
		ConnState(99):     "UNKNOWN",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d.String() = %s, want %s", s, s.String(), want)
		}
	}
}
