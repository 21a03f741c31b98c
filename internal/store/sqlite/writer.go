package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"intraday-systemv1/internal/ledger"
	"intraday-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/engine.db"
}

// Writer persists 5m candles, positions, and session summaries. Candles are
// batched in transactions; position and summary writes are immediate.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles_5m (
			symbol      TEXT    NOT NULL,
			exchange    TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        INTEGER NOT NULL,
			high        INTEGER NOT NULL,
			low         INTEGER NOT NULL,
			close       INTEGER NOT NULL,
			volume      INTEGER,
			ticks_count INTEGER,
			synthetic   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (exchange, symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS positions (
			id             INTEGER PRIMARY KEY,
			symbol         TEXT    NOT NULL,
			exchange       TEXT    NOT NULL,
			qty            INTEGER NOT NULL,
			entry_price    INTEGER NOT NULL,
			stop_loss      INTEGER NOT NULL,
			take_profit    INTEGER NOT NULL,
			status         TEXT    NOT NULL,
			entry_order_id TEXT,
			exit_price     INTEGER,
			exit_reason    TEXT,
			pnl            INTEGER,
			opened_at      INTEGER NOT NULL,
			closed_at      INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_positions_opened ON positions(opened_at);

		CREATE TABLE IF NOT EXISTS session_summaries (
			session_date   TEXT PRIMARY KEY,
			total_trades   INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades  INTEGER NOT NULL,
			win_rate       REAL    NOT NULL,
			total_pnl      INTEGER NOT NULL,
			max_drawdown   INTEGER NOT NULL,
			saved_at       INTEGER NOT NULL
		);
	`)
	return err
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of candles in a single transaction.
func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles_5m (symbol, exchange, ts, open, high, low, close, volume, ticks_count, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		synthetic := 0
		if c.Synthetic {
			synthetic = 1
		}
		_, err := stmt.Exec(c.Symbol, c.Exchange, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.TicksCount, synthetic)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SavePosition upserts a position row. Called on open and again on close.
func (w *Writer) SavePosition(p *model.Position) error {
	var closedAt any
	if !p.ClosedAt.IsZero() {
		closedAt = p.ClosedAt.Unix()
	}
	_, err := w.db.Exec(`
		INSERT OR REPLACE INTO positions
			(id, symbol, exchange, qty, entry_price, stop_loss, take_profit, status,
			 entry_order_id, exit_price, exit_reason, pnl, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Symbol, p.Exchange, p.Qty, p.EntryPrice, p.StopLoss, p.TakeProfit, string(p.Status),
		p.EntryOrderID, p.ExitPrice, p.ExitReason, p.PnL, p.OpenedAt.Unix(), closedAt)
	if err != nil {
		return fmt.Errorf("sqlite save position %d: %w", p.ID, err)
	}
	return nil
}

// SaveSummary records the end-of-session performance for a trading date.
func (w *Writer) SaveSummary(sessionDate string, s ledger.PerformanceSummary) error {
	_, err := w.db.Exec(`
		INSERT OR REPLACE INTO session_summaries
			(session_date, total_trades, winning_trades, losing_trades, win_rate, total_pnl, max_drawdown, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionDate, s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate, s.TotalPnL, s.MaxDrawdown, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite save summary %s: %w", sessionDate, err)
	}
	return nil
}

// GetLastTimestamp returns the last stored candle timestamp for an instrument.
// Returns 0 if no candles exist.
func (w *Writer) GetLastTimestamp(exchange, symbol string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles_5m WHERE exchange = ? AND symbol = ?`,
		exchange, symbol,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
