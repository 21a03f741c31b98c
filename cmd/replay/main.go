// cmd/replay runs the full decision pipeline over archived 5m candles from
// SQLite against the paper gateway, so a past session can be re-traded and
// the strategy's fills inspected without live market data.
//
// Usage:
//
//	go run ./cmd/replay --speed=0 --from=0 --db=data/engine.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intraday-systemv1/config"
	"intraday-systemv1/internal/execution"
	"intraday-systemv1/internal/indicator"
	"intraday-systemv1/internal/ledger"
	"intraday-systemv1/internal/marketdata/replay"
	"intraday-systemv1/internal/model"
	"intraday-systemv1/internal/risk"
	stratsignal "intraday-systemv1/internal/signal"
	sqlitestore "intraday-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	dbPath := flag.String("db", "data/engine.db", "Path to SQLite candle archive")
	watchlist := flag.String("watchlist", "", "EXCHANGE:SYMBOL:TOKEN,... (default: WATCHLIST env or built-in)")
	capital := flag.Int64("capital", 10_000_000, "Paper capital in paise")
	flag.Parse()

	cfg := &config.Config{Watchlist: *watchlist}
	if *watchlist == "" {
		cfg.Watchlist = os.Getenv("WATCHLIST")
	}
	if cfg.Watchlist == "" {
		cfg.Watchlist = "NSE:SBIN:779521,NSE:INFY:408065,NSE:RELIANCE:738561"
	}
	instruments := cfg.ParseWatchlist()
	if len(instruments) == 0 {
		log.Fatal("[replay] empty watchlist")
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Paper gateway: fills at the replayed candle's close.
	paper := execution.NewPaper(*capital, 5)
	for _, inst := range instruments {
		paper.SetTickSize(inst.Symbol, inst.Exchange, ledger.DefaultTickSize)
	}

	ind := indicator.NewEngine(indicator.DefaultWarmup)
	eval := stratsignal.New(false)
	gate := risk.New(risk.DefaultLimits(), 0)
	book := ledger.New()

	coordCfg := execution.DefaultConfig()
	coordCfg.Workers = 1 // keep replay deterministic
	coord := execution.NewCoordinator(coordCfg, paper, ind, eval, gate, book)
	coord.OnEvent = func(ev model.PositionEvent) {
		switch ev.Type {
		case model.EventOpened:
			p := ev.Position
			fmt.Printf("  [%s] OPEN  %s:%s qty=%d entry=%d sl=%d tp=%d\n",
				p.OpenedAt.Format("15:04:05"), p.Exchange, p.Symbol,
				p.Qty, p.EntryPrice, p.StopLoss, p.TakeProfit)
		case model.EventClosed:
			p := ev.Position
			fmt.Printf("  [%s] CLOSE %s:%s exit=%d pnl=%d (%s)\n",
				p.ClosedAt.Format("15:04:05"), p.Exchange, p.Symbol,
				p.ExitPrice, p.PnL, p.ExitReason)
		}
	}

	if err := coord.StartSession(ctx); err != nil {
		log.Fatalf("[replay] %v", err)
	}

	replayer := replay.New(reader)
	candleCh := make(chan model.Candle, 10000)
	coordCh := make(chan model.Candle, 10000)

	go func() {
		if err := replayer.Run(ctx, instruments, *fromTS, *speed, candleCh); err != nil {
			log.Printf("[replay] replay error: %v", err)
		}
		close(candleCh)
	}()

	done := make(chan struct{})
	go func() {
		coord.Run(ctx, coordCh)
		close(done)
	}()

	// Mark the paper book before the coordinator sees each candle, so market
	// orders fill at that candle's close and resting SL/TP orders trigger.
	processed := 0
	for c := range candleCh {
		paper.MarkPrice(c.Symbol, c.Exchange, c.Close)
		select {
		case coordCh <- c:
		case <-ctx.Done():
		}
		processed++
	}
	close(coordCh)
	<-done

	coord.EODSweep(context.Background(), time.Now())

	s := book.Summary()
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        REPLAY COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", processed)
	fmt.Printf("║  Trades:            %-16d ║\n", s.TotalTrades)
	fmt.Printf("║  Wins / losses:     %-16s ║\n", fmt.Sprintf("%d / %d", s.WinningTrades, s.LosingTrades))
	fmt.Printf("║  Win rate:          %-15.1f%% ║\n", s.WinRate)
	fmt.Printf("║  Total P&L (paise): %-16d ║\n", s.TotalPnL)
	fmt.Printf("║  Max drawdown:      %-16d ║\n", s.MaxDrawdown)
	fmt.Println("╚══════════════════════════════════════╝")
}
