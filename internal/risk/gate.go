// Package risk enforces portfolio-wide and per-instrument trading limits.
//
// All counters live in a single RiskState owned by the Gate and are read
// and written only under its mutex, since entries for different instruments
// are approved concurrently. An approved entry reserves its slot in the
// counters immediately; callers must Release the reservation if the order
// is never filled. Limit breaches are not errors — they are expected
// control-flow outcomes, logged once per breach episode.
package risk

import (
	"fmt"
	"log"
	"sync"
)

// Limits defines the configurable risk thresholds.
type Limits struct {
	MaxPositions         int     // portfolio-wide open position cap
	MaxPerInstrument     int     // open position cap per instrument
	CircuitBreakerLosses int     // consecutive losses that halt new entries
	MaxDrawdownPercent   float64 // |realized P&L| / initial capital, losing days only
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxPositions:         9,
		MaxPerInstrument:     6,
		CircuitBreakerLosses: 3,
		MaxDrawdownPercent:   18,
	}
}

// Rejection reasons returned by ApproveEntry.
const (
	ReasonMaxPositions   = "max_positions"
	ReasonInstrumentCap  = "instrument_cap"
	ReasonCircuitBreaker = "circuit_breaker"
	ReasonDrawdown       = "drawdown"
)

// RiskState holds the session counters. It is reset at the start of each
// trading day and never persisted across days.
type RiskState struct {
	InitialCapital    int64 // paise, snapshot at session start
	OpenCount         int
	PerInstrument     map[string]int
	ConsecutiveLosses int
	RealizedPnL       int64 // paise, cumulative over closed trades
}

// Gate approves or rejects proposed entries and tracks close outcomes.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	state  RiskState
	warned map[string]bool // limit type → warning already logged this episode

	// OnBreach is called once per breach episode with the reason and a
	// human-readable detail (optional, set externally).
	OnBreach func(reason, detail string)
}

// New creates a Gate for a session with the given initial capital (paise).
func New(limits Limits, initialCapital int64) *Gate {
	return &Gate{
		limits: limits,
		state: RiskState{
			InitialCapital: initialCapital,
			PerInstrument:  make(map[string]int),
		},
		warned: make(map[string]bool),
	}
}

// ResetSession clears all counters at the start of a trading day and
// re-snapshots initial capital.
func (g *Gate) ResetSession(initialCapital int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = RiskState{
		InitialCapital: initialCapital,
		PerInstrument:  make(map[string]int),
	}
	g.warned = make(map[string]bool)
}

// ApproveEntry checks every limit for a proposed entry on the given
// instrument key. On approval it reserves the position slot (incrementing
// the open counters) so that concurrent approvals can never oversubscribe
// the caps; the caller must call Release if no position is opened.
// On rejection it returns the limit type that failed.
func (g *Gate) ApproveEntry(key string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.OpenCount >= g.limits.MaxPositions {
		g.warnOnce(ReasonMaxPositions, fmt.Sprintf("position limit reached: %d/%d",
			g.state.OpenCount, g.limits.MaxPositions))
		return false, ReasonMaxPositions
	}
	g.clearWarn(ReasonMaxPositions)

	capKey := ReasonInstrumentCap + ":" + key
	if g.state.PerInstrument[key] >= g.limits.MaxPerInstrument {
		g.warnOnce(capKey, fmt.Sprintf("instrument cap reached for %s: %d/%d",
			key, g.state.PerInstrument[key], g.limits.MaxPerInstrument))
		return false, ReasonInstrumentCap
	}
	g.clearWarn(capKey)

	if g.state.ConsecutiveLosses >= g.limits.CircuitBreakerLosses {
		g.warnOnce(ReasonCircuitBreaker, fmt.Sprintf("circuit breaker active: %d consecutive losses",
			g.state.ConsecutiveLosses))
		return false, ReasonCircuitBreaker
	}
	g.clearWarn(ReasonCircuitBreaker)

	if g.state.RealizedPnL < 0 && g.state.InitialCapital > 0 {
		ddPct := float64(-g.state.RealizedPnL) / float64(g.state.InitialCapital) * 100
		if ddPct >= g.limits.MaxDrawdownPercent {
			g.warnOnce(ReasonDrawdown, fmt.Sprintf("daily drawdown limit exceeded: %.2f%% >= %.2f%%",
				ddPct, g.limits.MaxDrawdownPercent))
			return false, ReasonDrawdown
		}
	}
	g.clearWarn(ReasonDrawdown)

	g.state.OpenCount++
	g.state.PerInstrument[key]++
	return true, ""
}

// Release returns a reserved slot when an approved entry never became a
// position (order rejected, insufficient size, gateway failure).
func (g *Gate) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.OpenCount > 0 {
		g.state.OpenCount--
	}
	if g.state.PerInstrument[key] > 0 {
		g.state.PerInstrument[key]--
	}
}

// RecordClose applies a position closure. It is the single writer of the
// consecutive-loss counter and must be invoked exactly once per closure:
// a losing close increments the streak, any winning close resets it.
func (g *Gate) RecordClose(key string, pnl int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.OpenCount > 0 {
		g.state.OpenCount--
	}
	if g.state.PerInstrument[key] > 0 {
		g.state.PerInstrument[key]--
	}

	g.state.RealizedPnL += pnl
	if pnl < 0 {
		g.state.ConsecutiveLosses++
		log.Printf("[risk] losing close %s pnl=%d, consecutive losses=%d",
			key, pnl, g.state.ConsecutiveLosses)
	} else if pnl > 0 {
		if g.state.ConsecutiveLosses > 0 {
			log.Printf("[risk] winning close %s, consecutive losses reset", key)
		}
		g.state.ConsecutiveLosses = 0
	}
}

// Snapshot returns a copy of the current risk state.
func (g *Gate) Snapshot() RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := g.state
	cp.PerInstrument = make(map[string]int, len(g.state.PerInstrument))
	for k, v := range g.state.PerInstrument {
		cp.PerInstrument[k] = v
	}
	return cp
}

// OpenCount returns the current reserved/open position count.
func (g *Gate) OpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.OpenCount
}

// warnOnce logs a limit breach the first time it is hit within an episode.
// Caller holds g.mu.
func (g *Gate) warnOnce(key, detail string) {
	if g.warned[key] {
		return
	}
	g.warned[key] = true
	log.Printf("[risk] %s", detail)
	if g.OnBreach != nil {
		// Invoke outside the lock to avoid re-entrancy deadlocks.
		cb := g.OnBreach
		go cb(key, detail)
	}
}

// clearWarn resets a breach flag once its condition no longer holds, so the
// next breach episode logs again. Caller holds g.mu.
func (g *Gate) clearWarn(key string) {
	delete(g.warned, key)
}
