package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/coin_autopilot/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.Fatal(err)
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS engine_configs (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sentinels (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			entry_price REAL NOT NULL,
			stop_loss_pct REAL,
			take_profit_pct REAL,
			trailing_stop_pct REAL,
			sell_percentage REAL NOT NULL,
			highest_price_seen REAL NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			triggered_at INTEGER,
			trigger_reason TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'manual',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sentinels_symbol ON sentinels(symbol);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			coin_name TEXT NOT NULL,
			trade_type TEXT NOT NULL,
			coin_amount REAL NOT NULL,
			price REAL NOT NULL,
			usd_value REAL NOT NULL,
			timestamp INTEGER NOT NULL,
			is_transfer BOOLEAN NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			realized_pnl REAL NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_source_ts ON transactions(source, timestamp);`,
		`CREATE TABLE IF NOT EXISTS sniped_symbols (
			symbol TEXT PRIMARY KEY,
			coin_name TEXT NOT NULL,
			buy_usd REAL NOT NULL,
			price REAL NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS mirrored_trades (
			source_trade_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			whale_usd REAL NOT NULL,
			mirrored_usd REAL NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			transaction_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS dipbuyer_log (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			sell_usd REAL NOT NULL,
			confidence REAL NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			buy_usd REAL NOT NULL,
			tier TEXT NOT NULL DEFAULT '',
			signals TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dipbuyer_log_created ON dipbuyer_log(created_at);`,
		`CREATE TABLE IF NOT EXISTS dipbuyer_claims (
			trade_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS engine_state (
			name TEXT PRIMARY KEY,
			cursors TEXT NOT NULL DEFAULT '{}',
			last_run_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_trade_at INTEGER NOT NULL DEFAULT 0,
			trade_count INTEGER NOT NULL DEFAULT 0
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Columns added after the first release. Errors mean the column already exists.
	_, _ = s.db.Exec(`ALTER TABLE sentinels ADD COLUMN source TEXT NOT NULL DEFAULT 'manual'`)
	_, _ = s.db.Exec(`ALTER TABLE transactions ADD COLUMN realized_pnl REAL NOT NULL DEFAULT 0`)

	return nil
}

// ConfigRepository Implementation

func (s *SQLiteStore) LoadConfig(ctx context.Context, name string, dst any) (int, error) {
	var (
		version int
		payload string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, payload FROM engine_configs WHERE name = ?`, name).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, domain.Fatal(fmt.Errorf("load config %s: %w", name, err))
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return 0, fmt.Errorf("decode config %s: %w", name, err)
	}
	return version, nil
}

func (s *SQLiteStore) SaveConfig(ctx context.Context, name string, cfg any) (int, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encode config %s: %w", name, err)
	}
	query := `INSERT INTO engine_configs (name, version, payload, updated_at)
			  VALUES (?, 1, ?, ?)
			  ON CONFLICT(name) DO UPDATE SET
			  version=engine_configs.version + 1,
			  payload=excluded.payload,
			  updated_at=excluded.updated_at
			  RETURNING version`
	var version int
	if err := s.db.QueryRowContext(ctx, query, name, string(payload), toMillis(time.Now())).Scan(&version); err != nil {
		return 0, domain.Fatal(fmt.Errorf("save config %s: %w", name, err))
	}
	return version, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func normalizePage(p domain.Page) domain.Page {
	return p.Normalize()
}
