package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"intraday-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: a 6h15m session has 75 5m candles per instrument;
	// 1000 covers a full watchlist with headroom.
	candleStreamMaxLen = 1000
	eventStreamMaxLen  = 5000
	defaultLatestTTL   = 30 * time.Minute

	eventStream  = "events:positions"
	eventChannel = "pub:events"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes 5m candles and position events to Redis for dashboards
// and downstream consumers.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads 5m candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			w.writeCandle(ctx, candle)
		}
	}
}

// RunEvents reads position events and publishes them to Redis.
// Blocks until ctx is cancelled or the channel is closed.
func (w *Writer) RunEvents(ctx context.Context, eventCh <-chan model.PositionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			w.writeEvent(ctx, ev)
		}
	}
}

// writeCandle performs pipelined writes for a 5m candle.
func (w *Writer) writeCandle(ctx context.Context, candle model.Candle) {
	latestKey := "candle:5m:latest:" + candle.Exchange + ":" + candle.Symbol
	streamKey := "candle:5m:" + candle.Exchange + ":" + candle.Symbol
	pubsubCh := "pub:candle:5m:" + candle.Exchange + ":" + candle.Symbol
	jsonData := string(candle.JSON())

	pipe := w.client.Pipeline()

	// SET latest candle with TTL
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)

	// XADD to stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})

	// PUBLISH to pubsub channel
	pipe.Publish(ctx, pubsubCh, jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] pipeline error for %s: %v", candle.Key(), err)
	}
}

// writeEvent appends a position event to the event stream and publishes it.
func (w *Writer) writeEvent(ctx context.Context, ev model.PositionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[redis] marshal event %s: %v", ev.Type, err)
		return
	}
	jsonData := string(data)

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: eventStream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})
	pipe.Publish(ctx, eventChannel, jsonData)

	_, err = pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] event pipeline error for %s: %v", ev.Type, err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
