// Package replay provides a candle replayer that reads archived 5m candles
// from SQLite and emits them at configurable speed for paper-trading a past
// session.
package replay

import (
	"context"
	"log"
	"time"

	"intraday-systemv1/internal/model"
	sqlitestore "intraday-systemv1/internal/store/sqlite"
)

// Replayer reads archived candles from SQLite and replays them at a
// configurable speed multiplier.
type Replayer struct {
	reader *sqlitestore.Reader
}

// New creates a Replayer backed by a SQLite reader.
func New(reader *sqlitestore.Reader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays candles for the given instruments, emitting them into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast
// as possible. fromTS filters candles to those after this Unix timestamp
// (0 = all).
func (r *Replayer) Run(ctx context.Context, instruments []model.Instrument, fromTS int64, speed float64, outCh chan<- model.Candle) error {
	var all []model.Candle
	for _, inst := range instruments {
		candles, err := r.reader.ReadCandles(inst.Exchange, inst.Symbol, fromTS)
		if err != nil {
			return err
		}
		all = append(all, candles...)
	}

	if len(all) == 0 {
		log.Println("[replay] no candles found in SQLite")
		return nil
	}

	// Interleave instruments by timestamp
	sortCandles(all)

	log.Printf("[replay] loaded %d candles across %d instruments, speed=%.1fx", len(all), len(instruments), speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range all {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		default:
		}

		// Simulate time gaps between candles
		if speed > 0 && !prevTS.IsZero() {
			gap := c.TS.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = c.TS

		select {
		case outCh <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}

// sortCandles sorts candles by timestamp (insertion sort, fine for replay sizes).
func sortCandles(candles []model.Candle) {
	for i := 1; i < len(candles); i++ {
		for j := i; j > 0 && candles[j].TS.Before(candles[j-1].TS); j-- {
			candles[j], candles[j-1] = candles[j-1], candles[j]
		}
	}
}
