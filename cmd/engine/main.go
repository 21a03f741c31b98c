package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"intraday-systemv1/config"
	"intraday-systemv1/internal/advisory"
	"intraday-systemv1/internal/execution"
	"intraday-systemv1/internal/indicator"
	"intraday-systemv1/internal/ledger"
	"intraday-systemv1/internal/logger"
	"intraday-systemv1/internal/marketdata/agg"
	"intraday-systemv1/internal/marketdata/bus"
	"intraday-systemv1/internal/marketdata/closedetector"
	"intraday-systemv1/internal/marketdata/feed"
	"intraday-systemv1/internal/marketdata/sim"
	"intraday-systemv1/internal/markethours"
	"intraday-systemv1/internal/metrics"
	"intraday-systemv1/internal/model"
	"intraday-systemv1/internal/notification"
	"intraday-systemv1/internal/risk"
	stratsignal "intraday-systemv1/internal/signal"
	redisstore "intraday-systemv1/internal/store/redis"
	sqlitestore "intraday-systemv1/internal/store/sqlite"
	"intraday-systemv1/pkg/kiteconnect"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[engine] starting...")

	slogger := logger.Init("engine", slog.LevelInfo)

	cfg := config.Load()
	instruments := cfg.ParseWatchlist()
	if len(instruments) == 0 {
		log.Fatal("[engine] empty watchlist, nothing to trade")
	}
	log.Printf("[engine] watchlist: %d instruments", len(instruments))
	if cfg.PaperTrading {
		log.Println("[engine] *** PAPER MODE — simulated ticks, no broker credentials required ***")
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite (candle archive + positions + session summaries) ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	health.SetSQLiteOK(true)
	log.Println("[engine] sqlite writer ready")

	// ---- Fill journal (separate DB, audit trail for every order fill) ----
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[engine] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Redis (dashboards + event stream), optional ----
	var redisWriter *redisstore.Writer
	var buffered *redisstore.BufferedWriter
	redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
		redisWriter = nil
		health.SetRedisConnected(false)
	} else {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[engine] redis circuit breaker %s -> %s", from, to)
		}
		buffered = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
		buffered.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		health.SetRedisConnected(true)
		log.Println("[engine] redis writer ready")

		// Operator surface: latest candle and event tail, read back from
		// what the writer publishes.
		opsReader := redisstore.NewReaderFromClient(redisWriter.Client())
		ops := metrics.NewOpsHandler(opsReader, opsReader)
		metricsSrv.HandleFunc("/ops/candle", ops.Candle)
		metricsSrv.HandleFunc("/ops/events", ops.Events)
	}

	// ---- Periodic liveness checks ----
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	switch {
	case cfg.TelegramBotToken != "" && cfg.TelegramChatID != "":
		notifier = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		log.Println("[engine] telegram notifications enabled")
	case cfg.WebhookURL != "":
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
		log.Println("[engine] webhook notifications enabled")
	}
	notifyCh := make(chan model.PositionEvent, 256)
	go notification.PublishEvents(ctx, notifier, notifyCh)

	// ---- Advisory (optional external sentiment/ranking service) ----
	var adv advisory.Advisor = advisory.NewStatic()
	if url := os.Getenv("ADVISORY_URL"); url != "" {
		adv = advisory.NewHTTPAdvisor(url)
		log.Printf("[engine] advisory service: %s", url)
	}

	// ---- Pipeline channels ----
	tickCh := make(chan model.Tick, 10000)
	aggTickCh := make(chan model.Tick, 10000)
	candleCh := make(chan model.Candle, 5000)

	// Post-close price-stability watch, armed per session: once the closing
	// price stops moving the feed can be torn down early.
	var closeWatch atomic.Pointer[closedetector.Detector]
	var feedStop atomic.Value // context.CancelFunc for the active feed

	// Tick observation: count and freshness-stamp ticks on their way to the
	// aggregator.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-tickCh:
				if !ok {
					return
				}
				prom.TicksTotal.Inc()
				health.SetLastTickTime(time.Now())
				if det := closeWatch.Load(); det != nil && det.Observe(tick.Price, time.Now()) {
					closeWatch.Store(nil)
					if stop, ok := feedStop.Load().(context.CancelFunc); ok && stop != nil {
						stop()
					}
				}
				select {
				case aggTickCh <- tick:
				default:
					prom.DroppedTicks.Inc()
				}
			}
		}
	}()

	// ---- Order gateway + tick source ----
	var gw execution.OrderGateway
	var src feed.Source
	var quotes feed.QuoteFunc
	var paperGW *execution.Paper
	var kc *kiteconnect.Client
	var ticker *kiteconnect.Ticker

	if cfg.PaperTrading {
		paperGW = execution.NewPaper(cfg.PaperCapital, 5)
		startPrices := make(map[uint32]int64, len(instruments))
		for i, inst := range instruments {
			price := int64(80_000 + i*27_500) // spread start prices per instrument
			startPrices[inst.Token] = price
			paperGW.SetTickSize(inst.Symbol, inst.Exchange, ledger.DefaultTickSize)
			paperGW.SetQuote(inst.Symbol, inst.Exchange, price)
			paperGW.SetHistory(inst.Symbol, inst.Exchange, warmupCandles(inst, price, indicator.DefaultWarmup))
		}
		gw = paperGW
		src = sim.New(sim.Config{StartPrice: startPrices})
	} else {
		// Sessions expire daily, so the login itself happens at each market
		// open inside the session loop.
		kc = kiteconnect.New(kiteconnect.Config{
			APIKey:    cfg.KiteAPIKey,
			APISecret: cfg.KiteAPISecret,
		})
		ticker = kiteconnect.NewTicker(cfg.KiteAPIKey, "", "")
		gw = execution.NewKiteGateway(kc, instruments)
		src = ticker
		quotes = kc.LTP
	}

	// ---- Feed (reconnect policy + freshness tracking) ----
	md := feed.New(feed.Config{
		Instruments:   instruments,
		StaleAfter:    cfg.FeedStaleAfter,
		DegradedAfter: cfg.FeedDegradedAfter,
	}, src, quotes)
	md.OnStateChange = func(s feed.ConnState) {
		prom.FeedState.Set(float64(s))
		health.SetFeedConnected(s == feed.StateConnected)
		if s != feed.StateConnected {
			prom.FeedReconnects.Inc()
		}
		log.Printf("[engine] feed state: %s", s)
	}
	md.OnDroppedTick = func() { prom.RingBufOverflow.Inc() }

	// ---- Strategy components ----
	ind := indicator.NewEngine(indicator.DefaultWarmup)
	eval := stratsignal.New(cfg.VolumeConfirm)
	gate := risk.New(risk.Limits{
		MaxPositions:         cfg.MaxPositions,
		MaxPerInstrument:     cfg.MaxPerInstrument,
		CircuitBreakerLosses: cfg.MaxLossStreak,
		MaxDrawdownPercent:   cfg.MaxDrawdownPct,
	}, 0)
	book := ledger.New()

	coordCfg := execution.DefaultConfig()
	coordCfg.SizePercentBps = cfg.SizePercentBps
	coordCfg.ProtectiveOrders = cfg.ProtectiveOrders
	coordCfg.Interval = cfg.Interval
	coord := execution.NewCoordinator(coordCfg, gw, ind, eval, gate, book)
	coord.Fresh = md.Fresh
	coord.Journal = journal

	handleEvent := func(ev model.PositionEvent) {
		switch ev.Type {
		case model.EventOpened:
			prom.OrdersTotal.WithLabelValues("BUY", "FILLED").Inc()
			if ev.Position != nil {
				if err := sqlWriter.SavePosition(ev.Position); err != nil {
					log.Printf("[engine] save position: %v", err)
				}
			}
		case model.EventClosed:
			prom.OrdersTotal.WithLabelValues("SELL", "FILLED").Inc()
			prom.RealizedPnL.Add(float64(ev.PnL))
			if ev.Position != nil {
				if err := sqlWriter.SavePosition(ev.Position); err != nil {
					log.Printf("[engine] save position: %v", err)
				}
			}
		}
		n := gate.OpenCount()
		prom.OpenPositions.Set(float64(n))
		health.SetOpenPositions(n)

		attrs := []any{slog.String("type", ev.Type)}
		if ev.Position != nil {
			attrs = append(attrs,
				slog.String("instrument", ev.Position.Exchange+":"+ev.Position.Symbol),
				slog.Int64("qty", ev.Position.Qty),
				slog.Int64("pnl", ev.PnL))
		}
		if ev.Reason != "" {
			attrs = append(attrs, slog.String("reason", ev.Reason))
		}
		slogger.Info("position event", attrs...)

		if buffered != nil {
			buffered.WriteEvent(ev)
		}
		select {
		case notifyCh <- ev:
		default:
			log.Printf("[engine] notify channel full, dropping %s event", ev.Type)
		}
	}
	coord.OnEvent = handleEvent
	gate.OnBreach = func(reason, detail string) {
		prom.RiskBreaches.Inc()
		handleEvent(model.PositionEvent{
			Type:   model.EventRiskBreach,
			TS:     time.Now(),
			Reason: reason,
			Detail: detail,
		})
	}

	// ---- Candle fan-out: coordinator + SQLite + Redis + observers ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(stage string) {
		prom.FanoutDropsTotal.WithLabelValues(stage).Inc()
	}

	coordCandleCh := fanout.Subscribe("coordinator")
	sqliteCandleCh := fanout.Subscribe("sqlite")
	obsCandleCh := fanout.Subscribe("observer")
	var redisCandleCh <-chan model.Candle
	if buffered != nil {
		redisCandleCh = fanout.Subscribe("redis")
	}

	go fanout.Run(ctx, candleCh)
	go sqlWriter.Run(ctx, sqliteCandleCh)
	go coord.Run(ctx, coordCandleCh)

	if redisCandleCh != nil {
		go func() {
			for c := range redisCandleCh {
				start := time.Now()
				buffered.WriteCandle(c)
				prom.RedisWriteDur.Observe(time.Since(start).Seconds())
			}
		}()
	}

	// Observer: candle counters, lag, and paper mark-to-market.
	go func() {
		for c := range obsCandleCh {
			prom.CandlesTotal.Inc()
			if c.Synthetic {
				prom.SyntheticTotal.Inc()
			}
			prom.CandleLag.Set(time.Since(c.TS.Add(coordCfg.Interval)).Seconds())
			if paperGW != nil {
				paperGW.MarkPrice(c.Symbol, c.Exchange, c.Close)
			}
		}
	}()

	// Channel saturation reporting.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range fanout.Stats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						prom.ChannelSaturationPct.WithLabelValues("fanout_" + s.Name).Set(pct)
					}
				}
			}
		}
	}()

	// ---- Aggregator (5m OHLC builder) ----
	aggregator := agg.New(coordCfg.Interval)
	aggregator.OnLateTick = func() { prom.LateTicks.Inc() }
	go aggregator.Run(ctx, aggTickCh, candleCh)
	log.Println("[engine] pipeline ready")

	// ---- Session lifecycle ----
	if cfg.PaperTrading {
		// Paper runs ungated: trade immediately on simulated ticks.
		if err := coord.StartSession(ctx); err != nil {
			log.Fatalf("[engine] %v", err)
		}
		coord.WarmUp(ctx, instruments)
		go md.Run(ctx, tickCh)
		prom.MarketState.Set(1)

		log.Println("[engine] ╔═══════════════════════════════════════════════════════════════╗")
		log.Println("[engine] ║  Intraday Engine — PAPER MODE                                 ║")
		log.Println("[engine] ║                                                               ║")
		log.Println("[engine] ║  [Sim] → [5m Agg] → [Indicators] → [Signals] → [Paper Fills]  ║")
		log.Println("[engine] ║  EOD sweep runs on shutdown                                   ║")
		log.Println("[engine] ╚═══════════════════════════════════════════════════════════════╝")
	} else {
		go func() {
			for {
				now := time.Now()
				if !markethours.IsMarketOpen(now) {
					next := markethours.NextOpen(now)
					wait := next.Sub(now)
					prom.MarketState.Set(0)
					log.Printf("[engine] market closed. %s", markethours.StatusString(now))
					log.Printf("[engine] sleeping %v until next open %s",
						wait.Truncate(time.Second), next.In(markethours.IST).Format("Mon 15:04"))

					select {
					case <-ctx.Done():
						return
					case <-time.After(wait):
					}
				}

				// Advisory veto: a confidently bearish read sits the day out.
				if label, conf, err := adv.Sentiment(ctx); err != nil {
					log.Printf("[engine] advisory sentiment unavailable: %v", err)
				} else {
					log.Printf("[engine] market sentiment: %s (confidence %.2f)", label, conf)
					if label == advisory.SentimentBearish && conf >= 0.7 {
						log.Println("[engine] bearish sentiment, sitting out this session")
						select {
						case <-ctx.Done():
							return
						case <-time.After(time.Until(markethours.TodayClose(time.Now()))):
						}
						continue
					}
				}

				// Fresh TOTP login and session token at each open.
				log.Println("[engine] market open, generating fresh session...")
				if err := kc.AutoLogin(ctx, cfg.KiteUserID, cfg.KitePassword, cfg.KiteTOTPSecret); err != nil {
					log.Printf("[engine] kite login failed: %v, retrying in 30s", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(30 * time.Second):
					}
					continue
				}
				ticker.SetAccessToken(kc.AccessToken())
				log.Println("[engine] kite session established")

				if err := coord.StartSession(ctx); err != nil {
					log.Printf("[engine] session start failed: %v, retrying in 30s", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(30 * time.Second):
					}
					continue
				}

				// Warm up higher-priority instruments first.
				coord.WarmUp(ctx, rankInstruments(ctx, adv, instruments))
				prom.MarketState.Set(1)
				prom.SessionTransitions.WithLabelValues("open").Inc()
				slogger.Info("session started", slog.Int("instruments", len(instruments)))

				// The feed runs until the closing price stabilizes, with a
				// hard deadline a few minutes past close; the square-off
				// sweep fires first at 15:25.
				closeTime := markethours.TodayClose(time.Now())
				det := closedetector.New(closeTime)
				feedCtx, feedCancel := context.WithDeadline(ctx, closeTime.Add(det.MaxGrace))
				closeWatch.Store(det)
				feedStop.Store(context.CancelFunc(feedCancel))

				sweepDone := make(chan struct{})
				go func() {
					defer close(sweepDone)
					select {
					case <-feedCtx.Done():
						return
					case <-time.After(markethours.TimeUntilSquareOff(time.Now())):
					}
					log.Println("[engine] square-off time reached")
					coord.EODSweep(ctx, time.Now())
					saveSummary(sqlWriter, book, handleEvent)
					prom.SessionTransitions.WithLabelValues("square_off").Inc()
				}()

				log.Printf("[engine] feed connecting, hard deadline %s",
					closeTime.Add(det.MaxGrace).In(markethours.IST).Format("15:04:05"))
				md.Run(feedCtx, tickCh)
				closeWatch.Store(nil)
				feedCancel()
				<-sweepDone

				prom.MarketState.Set(0)
				prom.SessionTransitions.WithLabelValues("close").Inc()
				health.SetFeedConnected(false)
				log.Println("[engine] feed disconnected, market close")

				if ctx.Err() != nil {
					return
				}
			}
		}()

		log.Println("[engine] ╔═══════════════════════════════════════════════════════════════╗")
		log.Println("[engine] ║  Intraday Engine — Production Mode                            ║")
		log.Println("[engine] ║                                                               ║")
		log.Println("[engine] ║  [Kite WS] → [5m Agg] → [Indicators] → [Signals] → [Orders]   ║")
		log.Println("[engine] ║  Trading window: 9:15 AM – 3:30 PM IST, Mon–Fri               ║")
		log.Println("[engine] ║  Square-off at 3:25 PM, fresh login at each open              ║")
		log.Println("[engine] ╚═══════════════════════════════════════════════════════════════╝")
		log.Printf("[engine] %s", markethours.StatusString(time.Now()))
	}

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[engine] shutdown signal received, cleaning up...")

	if cfg.PaperTrading {
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 30*time.Second)
		coord.EODSweep(sweepCtx, time.Now())
		saveSummary(sqlWriter, book, handleEvent)
		sweepCancel()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[engine] shutdown complete.")
}

// rankInstruments reorders the watchlist by advisory preference. Symbols the
// advisor does not rank keep their original relative order at the end.
func rankInstruments(ctx context.Context, adv advisory.Advisor, instruments []model.Instrument) []model.Instrument {
	symbols := make([]string, len(instruments))
	for i, inst := range instruments {
		symbols[i] = inst.Symbol
	}
	ranked, err := adv.RankSectors(ctx, symbols)
	if err != nil {
		log.Printf("[engine] advisory ranking unavailable: %v", err)
		return instruments
	}

	bySymbol := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		bySymbol[inst.Symbol] = inst
	}
	out := make([]model.Instrument, 0, len(instruments))
	seen := make(map[string]bool, len(ranked))
	for _, sym := range ranked {
		if inst, ok := bySymbol[sym]; ok && !seen[sym] {
			out = append(out, inst)
			seen[sym] = true
		}
	}
	for _, inst := range instruments {
		if !seen[inst.Symbol] {
			out = append(out, inst)
		}
	}
	return out
}

// saveSummary persists the session's performance summary and emits the
// SESSION_SUMMARY event.
func saveSummary(sqlWriter *sqlitestore.Writer, book *ledger.Ledger, handleEvent func(model.PositionEvent)) {
	s := book.Summary()
	date := time.Now().In(markethours.IST).Format("2006-01-02")
	if err := sqlWriter.SaveSummary(date, s); err != nil {
		log.Printf("[engine] save summary: %v", err)
	}
	log.Printf("[engine] session summary: trades=%d wins=%d losses=%d winrate=%.1f%% pnl=%d paise maxdd=%d paise",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate, s.TotalPnL, s.MaxDrawdown)
	handleEvent(model.PositionEvent{
		Type:   model.EventSessionSummary,
		TS:     time.Now(),
		PnL:    s.TotalPnL,
		Detail: summaryDetail(s),
	})
}

func summaryDetail(s ledger.PerformanceSummary) string {
	return "trades=" + strconv.Itoa(s.TotalTrades) +
		" wins=" + strconv.Itoa(s.WinningTrades) +
		" losses=" + strconv.Itoa(s.LosingTrades) +
		" pnl=" + strconv.FormatInt(s.TotalPnL, 10)
}

// warmupCandles synthesizes seed history for the paper gateway: a gentle
// climb into the simulator's start price so indicators have a trend to work
// with from the first live candle.
func warmupCandles(inst model.Instrument, endPrice int64, n int) []model.Candle {
	out := make([]model.Candle, n)
	start := time.Now().Truncate(5 * time.Minute).Add(-time.Duration(n) * 5 * time.Minute)
	for i := range out {
		// ramp from 97% to 100% of endPrice with a small zigzag
		base := endPrice*97/100 + endPrice*3/100*int64(i)/int64(n)
		wiggle := int64(0)
		if i%2 == 0 {
			wiggle = endPrice / 2000
		}
		c := base + wiggle
		out[i] = model.Candle{
			Symbol:     inst.Symbol,
			Exchange:   inst.Exchange,
			TS:         start.Add(time.Duration(i) * 5 * time.Minute),
			Open:       c - endPrice/4000,
			High:       c + endPrice/1000,
			Low:        c - endPrice/1000,
			Close:      c,
			Volume:     50_000,
			TicksCount: 300,
		}
	}
	return out
}
