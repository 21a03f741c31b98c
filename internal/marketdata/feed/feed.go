// Package feed manages the live market data connection: subscribing the
// watchlist, normalizing broker ticks, reconnecting with bounded backoff,
// and tracking per-instrument data freshness.
package feed

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"intraday-systemv1/internal/model"
	"intraday-systemv1/internal/ringbuf"
	"intraday-systemv1/pkg/kiteconnect"
)

// ringCapacity sizes the tick buffer between the websocket callback and the
// drain goroutine. Sized for a full burst across the whole watchlist.
const ringCapacity = 4096

// ConnState is the feed's connection state.
type ConnState int32

const (
	// StateConnected: streaming normally.
	StateConnected ConnState = iota
	// StateReconnecting: the stream dropped, reconnect attempts in flight.
	StateReconnecting
	// StateDegraded: repeated reconnects failed; quote polling keeps candles
	// forming but instruments are never considered fresh, so no new entries.
	StateDegraded
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// Source is one streaming connection. The live implementation is
// kiteconnect.Ticker; the feed owns the reconnect policy around it.
type Source interface {
	Connect(ctx context.Context) error
	Subscribe(tokens []uint32, mode string) error
	Serve(ctx context.Context) error
	Close()
	SetOnTick(func(kiteconnect.Tick))
}

// QuoteFunc polls last prices for instrument keys, the degraded fallback.
type QuoteFunc func(ctx context.Context, instruments ...string) (map[string]int64, error)

// Config holds the feed tunables.
type Config struct {
	Instruments []model.Instrument
	Mode        string // subscription mode, default "quote"

	BaseBackoff   time.Duration // first reconnect delay, default 2s
	MaxBackoff    time.Duration // backoff cap, default 60s
	DegradedAfter int           // consecutive failures before DEGRADED, default 5
	StaleAfter    time.Duration // freshness window, default 90s
	PollInterval  time.Duration // degraded quote polling period, default 15s
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = kiteconnect.ModeQuote
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 5
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 90 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
}

// Feed streams normalized ticks from a Source into a channel. Ticks pass
// through an SPSC ring buffer so the websocket read callback never blocks on
// a slow consumer.
type Feed struct {
	cfg    Config
	src    Source
	quotes QuoteFunc // optional
	ring   *ringbuf.Ring

	state    atomic.Int32
	attempts atomic.Int32

	mu       sync.Mutex
	lastTick map[string]time.Time

	byToken map[uint32]model.Instrument
	tokens  []uint32
	keys    []string

	// OnStateChange is called on every state transition (optional).
	OnStateChange func(ConnState)
	// OnDroppedTick is called when the output channel is full (optional).
	OnDroppedTick func()
}

// New creates a feed. quotes may be nil, disabling the degraded fallback.
func New(cfg Config, src Source, quotes QuoteFunc) *Feed {
	cfg.defaults()
	f := &Feed{
		cfg:      cfg,
		src:      src,
		quotes:   quotes,
		ring:     ringbuf.New(ringCapacity),
		lastTick: make(map[string]time.Time, len(cfg.Instruments)),
		byToken:  make(map[uint32]model.Instrument, len(cfg.Instruments)),
	}
	for _, inst := range cfg.Instruments {
		f.byToken[inst.Token] = inst
		f.tokens = append(f.tokens, inst.Token)
		f.keys = append(f.keys, inst.Key())
	}
	f.state.Store(int32(StateReconnecting))
	return f
}

// State returns the current connection state.
func (f *Feed) State() ConnState {
	return ConnState(f.state.Load())
}

// Attempts returns the consecutive reconnect failure count.
func (f *Feed) Attempts() int {
	return int(f.attempts.Load())
}

// Fresh reports whether streamed data for an instrument key is current.
// Polled quotes in the degraded state never count: they keep candles forming
// but must not justify new entries.
func (f *Feed) Fresh(key string) bool {
	if f.State() != StateConnected {
		return false
	}
	f.mu.Lock()
	last, ok := f.lastTick[key]
	f.mu.Unlock()
	return ok && time.Since(last) <= f.cfg.StaleAfter
}

// Run streams ticks into tickCh until ctx is cancelled, reconnecting with
// exponential backoff on every failure.
func (f *Feed) Run(ctx context.Context, tickCh chan<- model.Tick) {
	f.src.SetOnTick(f.handleTick)
	go f.drainLoop(ctx, tickCh)
	if f.quotes != nil {
		go f.pollLoop(ctx)
	}

	backoff := f.cfg.BaseBackoff
	for ctx.Err() == nil {
		connected, err := f.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A healthy session resets the retry schedule.
			backoff = f.cfg.BaseBackoff
		}

		n := f.attempts.Add(1)
		if int(n) >= f.cfg.DegradedAfter {
			f.setState(StateDegraded)
		} else {
			f.setState(StateReconnecting)
		}
		log.Printf("[feed] stream lost (attempt %d, state %s): %v", n, f.State(), err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.MaxBackoff {
			backoff = f.cfg.MaxBackoff
		}
	}
}

func (f *Feed) connectAndServe(ctx context.Context) (bool, error) {
	if err := f.src.Connect(ctx); err != nil {
		return false, err
	}
	if err := f.src.Subscribe(f.tokens, f.cfg.Mode); err != nil {
		f.src.Close()
		return false, err
	}

	// Ticks observed on the previous connection must not mark instruments
	// fresh on this one: entries stay blocked until each instrument streams
	// a tick post-reconnect.
	f.mu.Lock()
	f.lastTick = make(map[string]time.Time, len(f.cfg.Instruments))
	f.mu.Unlock()

	f.attempts.Store(0)
	f.setState(StateConnected)
	log.Printf("[feed] connected, %d instruments subscribed", len(f.tokens))

	return true, f.src.Serve(ctx)
}

func (f *Feed) handleTick(rt kiteconnect.Tick) {
	inst, ok := f.byToken[rt.Token]
	if !ok {
		return
	}
	key := inst.Key()

	f.mu.Lock()
	f.lastTick[key] = time.Now()
	f.mu.Unlock()

	f.push(model.Tick{
		Symbol:   inst.Symbol,
		Exchange: inst.Exchange,
		Price:    rt.LastPrice,
		Qty:      rt.LastQty,
		TickTS:   rt.Timestamp,
	})
}

func (f *Feed) push(tick model.Tick) {
	if !f.ring.Push(tick) {
		log.Printf("[feed] ring buffer full, dropping %s:%s", tick.Exchange, tick.Symbol)
		if f.OnDroppedTick != nil {
			f.OnDroppedTick()
		}
	}
}

// drainLoop moves ticks from the ring buffer to the output channel.
func (f *Feed) drainLoop(ctx context.Context, tickCh chan<- model.Tick) {
	for {
		tick, ok := f.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case tickCh <- tick:
		}
	}
}

// pollLoop fetches quotes while the feed is degraded, so candle aggregation
// continues on coarse data. Polled prices do not refresh instrument
// freshness.
func (f *Feed) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if f.State() != StateDegraded {
			continue
		}

		prices, err := f.quotes(ctx, f.keys...)
		if err != nil {
			log.Printf("[feed] degraded quote poll: %v", err)
			continue
		}
		now := time.Now().UTC()
		for _, inst := range f.cfg.Instruments {
			price, ok := prices[inst.Key()]
			if !ok || price <= 0 {
				continue
			}
			f.push(model.Tick{
				Symbol:   inst.Symbol,
				Exchange: inst.Exchange,
				Price:    price,
				TickTS:   now,
			})
		}
	}
}

func (f *Feed) setState(s ConnState) {
	old := ConnState(f.state.Swap(int32(s)))
	if old != s && f.OnStateChange != nil {
		f.OnStateChange(s)
	}
}
