package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"intraday-systemv1/internal/ledger"
	"intraday-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for warm-up backfill and
// performance review.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles reads archived candles for an instrument after a timestamp,
// ordered ascending for correct replay order.
func (r *Reader) ReadCandles(exchange, symbol string, afterTS int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, exchange, ts, open, high, low, close, volume, ticks_count, synthetic
		FROM candles_5m
		WHERE exchange = ? AND symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, symbol, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		var synthetic int
		if err := rows.Scan(&c.Symbol, &c.Exchange, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TicksCount, &synthetic); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Synthetic = synthetic != 0
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadPositions returns positions opened within [from, to), newest first.
func (r *Reader) ReadPositions(from, to time.Time) ([]model.Position, error) {
	rows, err := r.db.Query(`
		SELECT id, symbol, exchange, qty, entry_price, stop_loss, take_profit, status,
		       entry_order_id, exit_price, exit_reason, pnl, opened_at, closed_at
		FROM positions
		WHERE opened_at >= ? AND opened_at < ?
		ORDER BY opened_at DESC
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var status string
		var openedAt int64
		var closedAt, exitPrice, pnl sql.NullInt64
		var exitReason, entryOrderID sql.NullString
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Exchange, &p.Qty, &p.EntryPrice, &p.StopLoss, &p.TakeProfit,
			&status, &entryOrderID, &exitPrice, &exitReason, &pnl, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan position: %w", err)
		}
		p.Status = model.PositionStatus(status)
		p.EntryOrderID = entryOrderID.String
		p.ExitPrice = exitPrice.Int64
		p.ExitReason = exitReason.String
		p.PnL = pnl.Int64
		p.OpenedAt = time.Unix(openedAt, 0).UTC()
		if closedAt.Valid {
			p.ClosedAt = time.Unix(closedAt.Int64, 0).UTC()
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReadSummary returns the stored performance summary for a trading date.
// Returns false if no summary was saved for that date.
func (r *Reader) ReadSummary(sessionDate string) (ledger.PerformanceSummary, bool, error) {
	var s ledger.PerformanceSummary
	err := r.db.QueryRow(`
		SELECT total_trades, winning_trades, losing_trades, win_rate, total_pnl, max_drawdown
		FROM session_summaries WHERE session_date = ?
	`, sessionDate).Scan(&s.TotalTrades, &s.WinningTrades, &s.LosingTrades, &s.WinRate, &s.TotalPnL, &s.MaxDrawdown)
	if err == sql.ErrNoRows {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("sqlite read summary: %w", err)
	}
	return s, true, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
