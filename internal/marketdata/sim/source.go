// Package sim provides a simulated tick source for paper trading. It is a
// drop-in feed.Source that generates a bounded random walk per instrument,
// no broker credentials required.
package sim

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"intraday-systemv1/pkg/kiteconnect"
)

// Config holds the simulator tunables.
type Config struct {
	// StartPrice maps instrument token to an initial price in paise.
	// Tokens without an entry start at DefaultPrice.
	StartPrice map[uint32]int64

	// DefaultPrice is the fallback initial price. Default: 100000 (₹1000).
	DefaultPrice int64

	// TickInterval is the delay between tick rounds. Default: 500ms.
	TickInterval time.Duration

	// MaxStepBps bounds each price step in basis points of the current
	// price. Default: 10 (0.1%).
	MaxStepBps int64

	// Drift skews the walk: 0 is symmetric, positive trends up. Range
	// roughly [-1, 1]. Default: 0.
	Drift float64

	// Seed makes runs reproducible. 0 seeds from the clock.
	Seed int64
}

func (c *Config) defaults() {
	if c.DefaultPrice <= 0 {
		c.DefaultPrice = 100_000
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.MaxStepBps <= 0 {
		c.MaxStepBps = 10
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Source generates simulated ticks for subscribed tokens.
type Source struct {
	cfg Config

	mu        sync.Mutex
	tokens    []uint32
	prices    map[uint32]int64
	volumes   map[uint32]int64
	onTick    func(kiteconnect.Tick)
	connected bool

	rng *rand.Rand
}

// New creates a simulated source.
func New(cfg Config) *Source {
	cfg.defaults()
	return &Source{
		cfg:     cfg,
		prices:  make(map[uint32]int64),
		volumes: make(map[uint32]int64),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SetOnTick installs the tick callback.
func (s *Source) SetOnTick(fn func(kiteconnect.Tick)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

// Connect marks the source connected. Never fails.
func (s *Source) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Subscribe registers tokens and seeds their starting prices.
func (s *Source) Subscribe(tokens []uint32, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("sim: not connected")
	}
	s.tokens = append([]uint32(nil), tokens...)
	for _, tok := range tokens {
		if _, ok := s.prices[tok]; ok {
			continue
		}
		if p, ok := s.cfg.StartPrice[tok]; ok && p > 0 {
			s.prices[tok] = p
		} else {
			s.prices[tok] = s.cfg.DefaultPrice
		}
	}
	return nil
}

// Serve emits ticks for all subscribed tokens until ctx is cancelled.
func (s *Source) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.emitRound()
		}
	}
}

// Close marks the source disconnected.
func (s *Source) Close() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Source) emitRound() {
	s.mu.Lock()
	fn := s.onTick
	tokens := s.tokens
	now := time.Now().UTC()

	ticks := make([]kiteconnect.Tick, 0, len(tokens))
	for _, tok := range tokens {
		price := s.step(s.prices[tok])
		s.prices[tok] = price
		qty := int64(s.rng.Intn(100) + 1)
		s.volumes[tok] += qty
		ticks = append(ticks, kiteconnect.Tick{
			Token:     tok,
			LastPrice: price,
			LastQty:   qty,
			Volume:    s.volumes[tok],
			Timestamp: now,
		})
	}
	s.mu.Unlock()

	if fn == nil {
		return
	}
	for _, t := range ticks {
		fn(t)
	}
}

// step advances a price by a bounded random amount, floored at one paisa.
func (s *Source) step(price int64) int64 {
	maxStep := price * s.cfg.MaxStepBps / 10_000
	if maxStep < 1 {
		maxStep = 1
	}
	r := s.rng.Float64()*2 - 1 + s.cfg.Drift
	next := price + int64(r*float64(maxStep))
	if next < 1 {
		next = 1
	}
	return next
}
