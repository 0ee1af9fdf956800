package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"
)

// DB wraps the SQLite connection, mirroring the teacher's WAL pragma tuning
// (internal/storage/db.go) so the repositories share a single pooled handle.
type DB struct {
	conn *sql.DB
}

// Open creates (or attaches to) the SQLite file at path with the same
// pragma set the teacher uses: WAL journaling, NORMAL sync, a busy timeout
// so concurrent repository access never surfaces SQLITE_BUSY to callers.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1) // single-writer invariant; modernc.org/sqlite is not safe for concurrent writers
	db := &DB{conn: conn}
	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	log.Info().Str("path", path).Msg("storage opened")
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) createTables() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL UNIQUE,
			label TEXT,
			mode TEXT NOT NULL,
			exit_strategy_id TEXT,
			active INTEGER NOT NULL,
			sync_state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			wallet_id TEXT NOT NULL,
			tx_signature TEXT NOT NULL,
			kind TEXT NOT NULL,
			token_address TEXT NOT NULL,
			amount_in TEXT NOT NULL,
			amount_out TEXT NOT NULL,
			received_at INTEGER NOT NULL,
			processed_at INTEGER,
			filtered INTEGER NOT NULL DEFAULT 0,
			filter_reason TEXT,
			position_id TEXT,
			raw_payload BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_wallet_token ON signals(wallet_id, token_address, kind, received_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_tx_signature ON signals(tx_signature) WHERE filtered = 0`,
		`CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			symbol TEXT,
			safety_score TEXT NOT NULL,
			analyzed_at INTEGER NOT NULL,
			source TEXT NOT NULL,
			liquidity_pass INTEGER NOT NULL,
			holders_pass INTEGER NOT NULL,
			contract_pass INTEGER NOT NULL,
			age_pass INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			wallet_id TEXT NOT NULL,
			token_address TEXT NOT NULL,
			mode TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			entry_amount TEXT NOT NULL,
			current_amount TEXT NOT NULL,
			peak_price TEXT NOT NULL,
			current_price TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_strategy_snapshot TEXT NOT NULL,
			scaling_levels_hit TEXT NOT NULL,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER,
			exit_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_wallet_token_status ON positions(wallet_id, token_address, status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions(closed_at)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			mode TEXT NOT NULL,
			priority INTEGER NOT NULL,
			amount_in TEXT NOT NULL,
			amount_out_expected TEXT NOT NULL,
			amount_out_actual TEXT,
			slippage_req TEXT NOT NULL,
			slippage_actual TEXT,
			status TEXT NOT NULL,
			tx_signature TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			scaling_level INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_position ON orders(position_id)`,
		`CREATE TABLE IF NOT EXISTS breaker_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			reason TEXT,
			drawdown_pct TEXT NOT NULL,
			win_rate TEXT NOT NULL,
			consecutive_losses INTEGER NOT NULL,
			daily_loss_limit_usd TEXT NOT NULL,
			max_drawdown_pct TEXT NOT NULL,
			occurred_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS config_overrides (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema stmt: %w", err)
		}
	}
	return nil
}
