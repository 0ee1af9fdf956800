package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"walltrack/internal/domain"
	"walltrack/internal/errs"
)

type sqliteWalletRepo struct{ db *DB }

// NewWalletRepo returns a WalletRepo backed by db.
func NewWalletRepo(db *DB) WalletRepo { return &sqliteWalletRepo{db: db} }

func (r *sqliteWalletRepo) Upsert(ctx context.Context, w *domain.Wallet) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO wallets (id, address, label, mode, exit_strategy_id, active, sync_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address=excluded.address, label=excluded.label, mode=excluded.mode,
			exit_strategy_id=excluded.exit_strategy_id, active=excluded.active,
			sync_state=excluded.sync_state, updated_at=excluded.updated_at`,
		w.ID.String(), w.Address, w.Label, string(w.Mode), w.ExitStrategyID.String(),
		boolToInt(w.Active), string(w.SyncState), w.CreatedAt.Unix(), w.UpdatedAt.Unix())
	if err != nil {
		return errs.New(errs.KindTransient, "wallet.upsert", err)
	}
	return nil
}

func (r *sqliteWalletRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT id, address, label, mode, exit_strategy_id, active, sync_state, created_at, updated_at FROM wallets WHERE id = ?`, id.String())
	return scanWallet(row)
}

func (r *sqliteWalletRepo) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT id, address, label, mode, exit_strategy_id, active, sync_state, created_at, updated_at FROM wallets WHERE address = ?`, address)
	return scanWallet(row)
}

func (r *sqliteWalletRepo) ListActive(ctx context.Context) ([]*domain.Wallet, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT id, address, label, mode, exit_strategy_id, active, sync_state, created_at, updated_at FROM wallets WHERE active = 1`)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "wallet.list_active", err)
	}
	defer rows.Close()
	var out []*domain.Wallet
	for rows.Next() {
		w, err := scanWalletRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (r *sqliteWalletRepo) SetSyncState(ctx context.Context, id uuid.UUID, state domain.SyncState) error {
	_, err := r.db.conn.ExecContext(ctx, `UPDATE wallets SET sync_state = ? WHERE id = ?`, string(state), id.String())
	if err != nil {
		return errs.New(errs.KindTransient, "wallet.set_sync_state", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row *sql.Row) (*domain.Wallet, error) {
	return scanWalletScanner(row)
}

func scanWalletRows(rows *sql.Rows) (*domain.Wallet, error) {
	return scanWalletScanner(rows)
}

func scanWalletScanner(s rowScanner) (*domain.Wallet, error) {
	var (
		id, address, label, mode, exitStrategyID, syncState string
		active                                              int
		createdAt, updatedAt                                int64
	)
	if err := s.Scan(&id, &address, &label, &mode, &exitStrategyID, &active, &syncState, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindUnknownEntity, "wallet.scan", errs.ErrNotFound)
		}
		return nil, errs.New(errs.KindTransient, "wallet.scan", err)
	}
	w := &domain.Wallet{
		Address:   address,
		Label:     label,
		Mode:      domain.Mode(mode),
		Active:    active != 0,
		SyncState: domain.SyncState(syncState),
	}
	var err error
	if w.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse wallet id: %w", err)
	}
	if exitStrategyID != "" {
		if w.ExitStrategyID, err = uuid.Parse(exitStrategyID); err != nil {
			return nil, fmt.Errorf("parse exit strategy id: %w", err)
		}
	}
	w.CreatedAt = unixToTime(createdAt)
	w.UpdatedAt = unixToTime(updatedAt)
	return w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
