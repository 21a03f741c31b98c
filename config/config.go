package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"intraday-systemv1/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Kite Connect credentials
	KiteAPIKey     string
	KiteAPISecret  string
	KiteUserID     string
	KitePassword   string
	KiteTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string

	// Watchlist: comma-separated EXCHANGE:SYMBOL:TOKEN entries,
	// e.g. "NSE:SBIN:779521,NSE:INFY:408065".
	Watchlist string

	// Trading
	PaperTrading     bool
	PaperCapital     int64 // paise, used when PaperTrading is set
	SizePercentBps   int64 // per-trade capital allocation in basis points
	VolumeConfirm    bool  // require volume above its MA as a sixth entry condition
	ProtectiveOrders bool  // place SL-M/TP orders on the gateway after entry fills
	Interval         time.Duration

	// Risk limits
	MaxPositions     int
	MaxPerInstrument int
	MaxLossStreak    int
	MaxDrawdownPct   float64 // percent of session capital

	// Feed tunables
	FeedStaleAfter    time.Duration
	FeedDegradedAfter int

	// Notifications (optional)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with sensible defaults.
// Broker credentials are only required for live trading.
func Load() *Config {
	cfg := &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/engine.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/fills.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		Watchlist: getEnv("WATCHLIST", "NSE:SBIN:779521,NSE:INFY:408065,NSE:RELIANCE:738561"),

		PaperTrading:     getEnv("PAPER_TRADING", "") == "1",
		PaperCapital:     int64(intEnv("PAPER_CAPITAL_PAISE", 10_000_000)),
		SizePercentBps:   int64(intEnv("SIZE_PERCENT_BPS", 1111)),
		VolumeConfirm:    getEnv("VOLUME_CONFIRM", "") == "1",
		ProtectiveOrders: getEnv("PROTECTIVE_ORDERS", "") == "1",
		Interval:         time.Duration(intEnv("INTERVAL_SEC", 300)) * time.Second,

		MaxPositions:     intEnv("MAX_POSITIONS", 9),
		MaxPerInstrument: intEnv("MAX_PER_INSTRUMENT", 6),
		MaxLossStreak:    intEnv("MAX_LOSS_STREAK", 3),
		MaxDrawdownPct:   float64(intEnv("MAX_DRAWDOWN_PCT", 18)),

		FeedStaleAfter:    time.Duration(intEnv("FEED_STALE_AFTER_SEC", 90)) * time.Second,
		FeedDegradedAfter: intEnv("FEED_DEGRADED_AFTER", 5),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}

	if !cfg.PaperTrading {
		cfg.KiteAPIKey = mustEnv("KITE_API_KEY")
		cfg.KiteAPISecret = mustEnv("KITE_API_SECRET")
		cfg.KiteUserID = mustEnv("KITE_USER_ID")
		cfg.KitePassword = mustEnv("KITE_PASSWORD")
		cfg.KiteTOTPSecret = mustEnv("KITE_TOTP_SECRET")
	}
	return cfg
}

// ParseWatchlist parses the Watchlist string into instruments. Malformed
// entries are logged and skipped.
func (c *Config) ParseWatchlist() []model.Instrument {
	parts := strings.Split(c.Watchlist, ",")
	out := make([]model.Instrument, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.Split(p, ":")
		if len(fields) != 3 {
			log.Printf("[config] skipping malformed watchlist entry: %q", p)
			continue
		}
		token, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			log.Printf("[config] skipping watchlist entry with bad token: %q", p)
			continue
		}
		out = append(out, model.Instrument{
			Exchange: fields[0],
			Symbol:   fields[1],
			Token:    uint32(token),
		})
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
