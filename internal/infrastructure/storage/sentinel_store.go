package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitos/coin_autopilot/internal/domain"
)

const sentinelColumns = `id, symbol, entry_price, stop_loss_pct, take_profit_pct, trailing_stop_pct, sell_percentage, highest_price_seen, is_active, triggered_at, trigger_reason, source, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSentinel(row rowScanner) (*domain.Sentinel, error) {
	var (
		s                domain.Sentinel
		stopLoss, tp, ts sql.NullFloat64
		triggeredAt      sql.NullInt64
		reason           string
		createdAt        int64
	)
	if err := row.Scan(&s.ID, &s.Symbol, &s.EntryPrice, &stopLoss, &tp, &ts, &s.SellPercentage, &s.HighestPriceSeen, &s.IsActive, &triggeredAt, &reason, &s.Source, &createdAt); err != nil {
		return nil, err
	}
	s.StopLossPct = floatPtr(stopLoss)
	s.TakeProfitPct = floatPtr(tp)
	s.TrailingStopPct = floatPtr(ts)
	if triggeredAt.Valid {
		t := fromMillis(triggeredAt.Int64)
		s.TriggeredAt = &t
	}
	s.TriggerReason = domain.TriggerReason(reason)
	s.CreatedAt = fromMillis(createdAt)
	return &s, nil
}

// SentinelRepository Implementation

func (s *SQLiteStore) SaveSentinel(ctx context.Context, sen *domain.Sentinel) error {
	query := `INSERT INTO sentinels (` + sentinelColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var triggeredAt sql.NullInt64
	if sen.TriggeredAt != nil {
		triggeredAt = sql.NullInt64{Int64: toMillis(*sen.TriggeredAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		sen.ID, sen.Symbol, sen.EntryPrice, nullFloat(sen.StopLossPct), nullFloat(sen.TakeProfitPct), nullFloat(sen.TrailingStopPct),
		sen.SellPercentage, sen.HighestPriceSeen, sen.IsActive, triggeredAt, string(sen.TriggerReason), sen.Source, toMillis(sen.CreatedAt))
	return err
}

func (s *SQLiteStore) GetSentinel(ctx context.Context, id string) (*domain.Sentinel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sentinelColumns+` FROM sentinels WHERE id = ?`, id)
	sen, err := scanSentinel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return sen, err
}

func (s *SQLiteStore) ListSentinels(ctx context.Context) ([]*domain.Sentinel, error) {
	return s.querySentinels(ctx, `SELECT `+sentinelColumns+` FROM sentinels ORDER BY created_at DESC`)
}

// ListPendingSentinels returns every sentinel that has not triggered, paused or not.
func (s *SQLiteStore) ListPendingSentinels(ctx context.Context) ([]*domain.Sentinel, error) {
	return s.querySentinels(ctx, `SELECT `+sentinelColumns+` FROM sentinels WHERE triggered_at IS NULL ORDER BY created_at`)
}

func (s *SQLiteStore) querySentinels(ctx context.Context, query string, args ...any) ([]*domain.Sentinel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("query sentinels: %w", err))
	}
	defer rows.Close()

	var out []*domain.Sentinel
	for rows.Next() {
		sen, err := scanSentinel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sen)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSentinel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sentinels WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *SQLiteStore) UpdateThresholds(ctx context.Context, id string, t domain.SentinelThresholds) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sentinels SET stop_loss_pct = ?, take_profit_pct = ?, trailing_stop_pct = ?, sell_percentage = ?
		WHERE id = ? AND triggered_at IS NULL`,
		nullFloat(t.StopLossPct), nullFloat(t.TakeProfitPct), nullFloat(t.TrailingStopPct), t.SellPercentage, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *SQLiteStore) SetSentinelActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sentinels SET is_active = ? WHERE id = ? AND triggered_at IS NULL`, active, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *SQLiteStore) SetAllSentinelsActive(ctx context.Context, active bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sentinels SET is_active = ? WHERE triggered_at IS NULL`, active)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ApplyThresholdsToAll overwrites thresholds of every non-triggered sentinel in one statement.
func (s *SQLiteStore) ApplyThresholdsToAll(ctx context.Context, t domain.SentinelThresholds) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sentinels SET stop_loss_pct = ?, take_profit_pct = ?, trailing_stop_pct = ?, sell_percentage = ?
		WHERE triggered_at IS NULL`,
		nullFloat(t.StopLossPct), nullFloat(t.TakeProfitPct), nullFloat(t.TrailingStopPct), t.SellPercentage)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) RaiseHighestPrice(ctx context.Context, id string, price float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sentinels SET highest_price_seen = MAX(highest_price_seen, ?)
		WHERE id = ? AND triggered_at IS NULL`, price, id)
	return err
}

func (s *SQLiteStore) ClaimSentinelTrigger(ctx context.Context, id string, at time.Time, reason domain.TriggerReason) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sentinels SET triggered_at = ?, trigger_reason = ?
		WHERE id = ? AND triggered_at IS NULL`, toMillis(at), string(reason), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) DeleteTriggeredSentinels(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sentinels WHERE triggered_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeletePendingSentinelsNotIn removes non-triggered sentinels created before cutoff whose symbol is not in symbols.
// The cutoff keeps sentinels spawned after the holdings snapshot was taken.
func (s *SQLiteStore) DeletePendingSentinelsNotIn(ctx context.Context, symbols []string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sentinels WHERE triggered_at IS NULL AND created_at < ?`
	args := make([]any, 0, len(symbols)+1)
	args = append(args, toMillis(cutoff))
	if len(symbols) > 0 {
		query += ` AND symbol NOT IN (?` + strings.Repeat(", ?", len(symbols)-1) + `)`
		for _, sym := range symbols {
			args = append(args, sym)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
