package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"intraday-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader queries the candles and position events the Writer publishes,
// backing the operator endpoints on the metrics server.
type Reader struct {
	client *goredis.Client
}

// NewReaderFromClient wraps an existing client. The caller keeps ownership
// of the connection; the engine shares the Writer's client here.
func NewReaderFromClient(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// LatestCandle returns the most recent published candle for an instrument.
// Returns false if none is cached.
func (r *Reader) LatestCandle(ctx context.Context, exchange, symbol string) (model.Candle, bool, error) {
	key := "candle:5m:latest:" + exchange + ":" + symbol
	data, err := r.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return model.Candle{}, false, nil
	}
	if err != nil {
		return model.Candle{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var c model.Candle
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return model.Candle{}, false, fmt.Errorf("unmarshal candle: %w", err)
	}
	return c, true, nil
}

// RecentEvents returns the last n position events, newest first.
func (r *Reader) RecentEvents(ctx context.Context, n int64) ([]model.PositionEvent, error) {
	msgs, err := r.client.XRevRangeN(ctx, eventStream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %s: %w", eventStream, err)
	}

	events := make([]model.PositionEvent, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var ev model.PositionEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Printf("[redis-reader] unmarshal event %s: %v", msg.ID, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
