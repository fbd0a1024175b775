package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vitos/coin_autopilot/internal/domain"
)

const transactionColumns = `id, symbol, coin_name, trade_type, coin_amount, price, usd_value, timestamp, is_transfer, source, realized_pnl`

// TradeRepository Implementation

// RecordTrade inserts the transaction and bumps the source engine counters inside one SQL transaction.
func (s *SQLiteStore) RecordTrade(ctx context.Context, rec *domain.TransactionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Fatal(fmt.Errorf("begin record trade: %w", err))
	}
	defer tx.Rollback()

	ts := toMillis(rec.Timestamp)
	_, err = tx.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.CoinName, string(rec.TradeType), rec.CoinAmount, rec.Price, rec.UsdValue,
		ts, rec.IsTransfer, rec.Source, rec.RealizedPnL)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO engine_state (name, last_trade_at, trade_count)
		VALUES (?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
		last_trade_at=MAX(engine_state.last_trade_at, excluded.last_trade_at),
		trade_count=engine_state.trade_count + 1`, rec.Source, ts)
	if err != nil {
		return fmt.Errorf("update engine counters: %w", err)
	}

	return tx.Commit()
}

// ListTransactions returns newest first. An empty source lists every source.
func (s *SQLiteStore) ListTransactions(ctx context.Context, source string, page domain.Page) ([]*domain.TransactionRecord, int, error) {
	page = normalizePage(page)
	where, args := "", []any{}
	if source != "" {
		where = " WHERE source = ?"
		args = append(args, source)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions`+where+
		` ORDER BY timestamp DESC LIMIT ? OFFSET ?`, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.TransactionRecord
	for rows.Next() {
		var (
			rec       domain.TransactionRecord
			tradeType string
			ts        int64
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.CoinName, &tradeType, &rec.CoinAmount, &rec.Price, &rec.UsdValue,
			&ts, &rec.IsTransfer, &rec.Source, &rec.RealizedPnL); err != nil {
			return nil, 0, err
		}
		rec.TradeType = domain.TradeType(tradeType)
		rec.Timestamp = fromMillis(ts)
		out = append(out, &rec)
	}
	return out, total, rows.Err()
}

// TradeStatsSince counts trades at or after since. Empty source or direction matches everything.
func (s *SQLiteStore) TradeStatsSince(ctx context.Context, source string, direction domain.Direction, since time.Time) (domain.TradeWindowStats, error) {
	conds := []string{"timestamp >= ?", "is_transfer = 0"}
	args := []any{toMillis(since)}
	if source != "" {
		conds = append(conds, "source = ?")
		args = append(args, source)
	}
	if direction != "" {
		conds = append(conds, "trade_type = ?")
		args = append(args, string(direction))
	}

	var stats domain.TradeWindowStats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(usd_value), 0) FROM transactions WHERE `+
		strings.Join(conds, " AND "), args...).Scan(&stats.Count, &stats.VolumeUsd)
	if err != nil {
		return domain.TradeWindowStats{}, domain.Fatal(fmt.Errorf("trade stats: %w", err))
	}
	return stats, nil
}

// LastLossAt returns the time of the most recent losing sell, or the zero time.
func (s *SQLiteStore) LastLossAt(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM transactions WHERE trade_type = 'SELL' AND realized_pnl < 0`).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return fromMillis(ts.Int64), nil
}

// LastBuyAt returns the most recent buy of symbol by source, or the zero time.
func (s *SQLiteStore) LastBuyAt(ctx context.Context, source, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM transactions
		WHERE trade_type = 'BUY' AND source = ? AND symbol = ?`, source, symbol).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return fromMillis(ts.Int64), nil
}
