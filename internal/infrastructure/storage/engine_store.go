package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/vitos/coin_autopilot/internal/domain"
)

// SniperRepository Implementation

// ClaimSniped reserves the symbol. False means it was sniped (or is being sniped) already.
func (s *SQLiteStore) ClaimSniped(ctx context.Context, sn *domain.SnipedSymbol) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sniped_symbols (symbol, coin_name, buy_usd, price, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, sn.Symbol, sn.CoinName, sn.BuyUsd, sn.Price, sn.TransactionID, toMillis(sn.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompleteSniped(ctx context.Context, sn *domain.SnipedSymbol) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sniped_symbols SET buy_usd = ?, price = ?, transaction_id = ? WHERE symbol = ?`,
		sn.BuyUsd, sn.Price, sn.TransactionID, sn.Symbol)
	return err
}

// ReleaseSniped drops a claim whose buy never went through.
func (s *SQLiteStore) ReleaseSniped(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sniped_symbols WHERE symbol = ?`, symbol)
	return err
}

func (s *SQLiteStore) ListSniped(ctx context.Context, page domain.Page) ([]*domain.SnipedSymbol, int, error) {
	page = normalizePage(page)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sniped_symbols`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, coin_name, buy_usd, price, transaction_id, created_at
		FROM sniped_symbols ORDER BY created_at DESC LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.SnipedSymbol
	for rows.Next() {
		var (
			sn domain.SnipedSymbol
			ts int64
		)
		if err := rows.Scan(&sn.Symbol, &sn.CoinName, &sn.BuyUsd, &sn.Price, &sn.TransactionID, &ts); err != nil {
			return nil, 0, err
		}
		sn.CreatedAt = fromMillis(ts)
		out = append(out, &sn)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) ClearSniped(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sniped_symbols`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MirrorRepository Implementation

// ClaimMirroredTrade records the whale trade as pending. False means it was seen before.
func (s *SQLiteStore) ClaimMirroredTrade(ctx context.Context, m *domain.MirroredTrade) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO mirrored_trades
		(source_trade_id, account_id, symbol, direction, whale_usd, mirrored_usd, status, reason, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SourceTradeID, m.AccountID, m.Symbol, string(m.Direction), m.WhaleUsd, m.MirroredUsd,
		string(domain.MirrorPending), m.Reason, m.TransactionID, toMillis(m.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) FinishMirroredTrade(ctx context.Context, m *domain.MirroredTrade) error {
	_, err := s.db.ExecContext(ctx, `UPDATE mirrored_trades SET mirrored_usd = ?, status = ?, reason = ?, transaction_id = ?
		WHERE source_trade_id = ?`, m.MirroredUsd, string(m.Status), m.Reason, m.TransactionID, m.SourceTradeID)
	return err
}

func (s *SQLiteStore) ListMirroredTrades(ctx context.Context, page domain.Page) ([]*domain.MirroredTrade, int, error) {
	page = normalizePage(page)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mirrored_trades`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT source_trade_id, account_id, symbol, direction, whale_usd, mirrored_usd, status, reason, transaction_id, created_at
		FROM mirrored_trades ORDER BY created_at DESC LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.MirroredTrade
	for rows.Next() {
		var (
			m                 domain.MirroredTrade
			direction, status string
			ts                int64
		)
		if err := rows.Scan(&m.SourceTradeID, &m.AccountID, &m.Symbol, &direction, &m.WhaleUsd, &m.MirroredUsd,
			&status, &m.Reason, &m.TransactionID, &ts); err != nil {
			return nil, 0, err
		}
		m.Direction = domain.Direction(direction)
		m.Status = domain.MirrorStatus(status)
		m.CreatedAt = fromMillis(ts)
		out = append(out, &m)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) PruneMirroredTrades(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mirrored_trades WHERE created_at < ? AND status != ?`,
		toMillis(before), string(domain.MirrorPending))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DipBuyerRepository Implementation

func (s *SQLiteStore) SaveDipBuyerLog(ctx context.Context, e *domain.DipBuyerLogEntry) error {
	signals, err := json.Marshal(e.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO dipbuyer_log
		(id, symbol, trade_id, seller_id, sell_usd, confidence, decision, reason, buy_usd, tier, signals, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Symbol, e.TradeID, e.SellerID, e.SellUsd, e.Confidence, string(e.Decision), e.Reason, e.BuyUsd,
		e.Tier, string(signals), e.TransactionID, toMillis(e.CreatedAt))
	return err
}

func (s *SQLiteStore) ListDipBuyerLog(ctx context.Context, page domain.Page) ([]*domain.DipBuyerLogEntry, int, error) {
	page = normalizePage(page)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dipbuyer_log`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, trade_id, seller_id, sell_usd, confidence, decision, reason, buy_usd, tier, signals, transaction_id, created_at
		FROM dipbuyer_log ORDER BY created_at DESC LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.DipBuyerLogEntry
	for rows.Next() {
		var (
			e                 domain.DipBuyerLogEntry
			decision, signals string
			ts                int64
		)
		if err := rows.Scan(&e.ID, &e.Symbol, &e.TradeID, &e.SellerID, &e.SellUsd, &e.Confidence, &decision, &e.Reason,
			&e.BuyUsd, &e.Tier, &signals, &e.TransactionID, &ts); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(signals), &e.Signals); err != nil {
			return nil, 0, fmt.Errorf("decode signals of %s: %w", e.ID, err)
		}
		e.Decision = domain.DipDecision(decision)
		e.CreatedAt = fromMillis(ts)
		out = append(out, &e)
	}
	return out, total, rows.Err()
}

// ClaimDipTrade reserves a feed sell before the dip buy. False means that sell was bought already.
func (s *SQLiteStore) ClaimDipTrade(ctx context.Context, tradeID, symbol string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO dipbuyer_claims (trade_id, symbol, created_at) VALUES (?, ?, ?)`,
		tradeID, symbol, toMillis(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseDipTrade drops a claim whose buy did not go through.
func (s *SQLiteStore) ReleaseDipTrade(ctx context.Context, tradeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dipbuyer_claims WHERE trade_id = ?`, tradeID)
	return err
}

// PruneDipBuyerLog deletes log rows and buy claims older than before. It returns the log rows removed.
func (s *SQLiteStore) PruneDipBuyerLog(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM dipbuyer_log WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dipbuyer_claims WHERE created_at < ?`, toMillis(before)); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// EngineStateRepository Implementation

// GetEngineState returns an empty state for engines that never ran.
func (s *SQLiteStore) GetEngineState(ctx context.Context, name string) (*domain.EngineState, error) {
	var (
		cursors            string
		lastRun, lastTrade int64
	)
	st := &domain.EngineState{Name: name, Cursors: map[string]string{}}
	err := s.db.QueryRowContext(ctx, `SELECT cursors, last_run_at, last_error, last_trade_at, trade_count FROM engine_state WHERE name = ?`, name).
		Scan(&cursors, &lastRun, &st.LastError, &lastTrade, &st.TradeCount)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("load engine state %s: %w", name, err))
	}
	if err := json.Unmarshal([]byte(cursors), &st.Cursors); err != nil {
		return nil, fmt.Errorf("decode cursors of %s: %w", name, err)
	}
	if st.Cursors == nil {
		st.Cursors = map[string]string{}
	}
	st.LastRunAt = fromMillis(lastRun)
	st.LastTradeAt = fromMillis(lastTrade)
	return st, nil
}

// SaveEngineState persists cursors and run bookkeeping. Trade counters are owned by RecordTrade.
func (s *SQLiteStore) SaveEngineState(ctx context.Context, st *domain.EngineState) error {
	cursors, err := json.Marshal(st.Cursors)
	if err != nil {
		return fmt.Errorf("encode cursors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO engine_state (name, cursors, last_run_at, last_error)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		cursors=excluded.cursors,
		last_run_at=excluded.last_run_at,
		last_error=excluded.last_error`,
		st.Name, string(cursors), toMillis(st.LastRunAt), st.LastError)
	return err
}
