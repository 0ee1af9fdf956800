package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
	"walltrack/internal/errs"
)

type sqliteSignalRepo struct{ db *DB }

// NewSignalRepo returns a SignalRepo backed by db.
func NewSignalRepo(db *DB) SignalRepo { return &sqliteSignalRepo{db: db} }

func (r *sqliteSignalRepo) Insert(ctx context.Context, s *domain.Signal) error {
	var posID any
	if s.PositionID != nil {
		posID = s.PositionID.String()
	}
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO signals (id, wallet_id, tx_signature, kind, token_address, amount_in, amount_out, received_at, processed_at, filtered, filter_reason, position_id, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.WalletID.String(), s.TxSignature, string(s.Kind), s.TokenAddress,
		s.AmountIn.String(), s.AmountOut.String(), s.ReceivedAt.Unix(), optUnix(s.ProcessedAt),
		boolToInt(s.Filtered), s.FilterReason, posID, s.RawPayload)
	if err != nil {
		if isUniqueConstraint(err) {
			return errs.New(errs.KindDuplicate, "signal.insert", err)
		}
		return errs.New(errs.KindTransient, "signal.insert", err)
	}
	return nil
}

func (r *sqliteSignalRepo) ExistsByTxSignature(ctx context.Context, sig string) (bool, error) {
	var count int
	err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM signals WHERE tx_signature = ?`, sig).Scan(&count)
	if err != nil {
		return false, errs.New(errs.KindTransient, "signal.exists", err)
	}
	return count > 0, nil
}

func (r *sqliteSignalRepo) MarkProcessed(ctx context.Context, id uuid.UUID, positionID *uuid.UUID, filtered bool, reason string) error {
	var posID any
	if positionID != nil {
		posID = positionID.String()
	}
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE signals SET processed_at = ?, position_id = ?, filtered = ?, filter_reason = ? WHERE id = ?`,
		time.Now().Unix(), posID, boolToInt(filtered), reason, id.String())
	if err != nil {
		return errs.New(errs.KindTransient, "signal.mark_processed", err)
	}
	return nil
}

func (r *sqliteSignalRepo) RecentSellsForWalletToken(ctx context.Context, walletID uuid.UUID, tokenAddress string, since time.Time) (bool, error) {
	var count int
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM signals
		WHERE wallet_id = ? AND token_address = ? AND kind = 'sell' AND filtered = 0 AND received_at >= ?`,
		walletID.String(), tokenAddress, since.Unix()).Scan(&count)
	if err != nil {
		return false, errs.New(errs.KindTransient, "signal.recent_sells", err)
	}
	return count > 0, nil
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "UNIQUE constraint", "constraint failed")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
