// Package bus fans closed candles out from the aggregator to the pipeline
// stages that consume them.
package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"intraday-systemv1/internal/model"
)

// FanOut broadcasts candles from a single input channel to named stages.
// A full stage buffer drops the candle for that stage only, so a stalled
// store writer cannot hold back the coordinator.
type FanOut struct {
	mu      sync.RWMutex
	subs    []*subscriber
	bufSize int

	// OnDrop is called with the stage name when its buffer is full.
	OnDrop func(stage string)
}

type subscriber struct {
	name  string
	ch    chan model.Candle
	drops atomic.Int64
}

// New creates a FanOut; bufSize is the per-stage channel buffer.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a named pipeline stage and returns its channel.
func (f *FanOut) Subscribe(name string) <-chan model.Candle {
	sub := &subscriber{name: name, ch: make(chan model.Candle, f.bufSize)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub.ch
}

// Run reads from the input channel and fans out to all stages. Blocks
// until ctx is cancelled or input is closed; stage channels are closed on
// the way out so consumers drain and exit.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer func() {
		f.mu.RLock()
		for _, sub := range f.subs {
			close(sub.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, sub := range f.subs {
				select {
				case sub.ch <- candle:
				default:
					sub.drops.Add(1)
					if f.OnDrop != nil {
						f.OnDrop(sub.name)
					} else {
						log.Printf("[bus] %s buffer full, dropping candle %s", sub.name, candle.Key())
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// SubscriberStat reports a stage's buffer depth and lifetime drop count,
// feeding the saturation gauge.
type SubscriberStat struct {
	Name  string
	Len   int
	Cap   int
	Drops int64
}

// Stats returns one entry per subscribed stage.
func (f *FanOut) Stats() []SubscriberStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]SubscriberStat, len(f.subs))
	for i, sub := range f.subs {
		stats[i] = SubscriberStat{
			Name:  sub.name,
			Len:   len(sub.ch),
			Cap:   cap(sub.ch),
			Drops: sub.drops.Load(),
		}
	}
	return stats
}
