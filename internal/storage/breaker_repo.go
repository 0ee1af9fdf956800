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

type sqliteBreakerRepo struct{ db *DB }

// NewBreakerRepo returns a BreakerRepo backed by db.
func NewBreakerRepo(db *DB) BreakerRepo { return &sqliteBreakerRepo{db: db} }

func (r *sqliteBreakerRepo) Insert(ctx context.Context, e *domain.CircuitBreakerEvent) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO breaker_events (id, kind, reason, drawdown_pct, win_rate, consecutive_losses, daily_loss_limit_usd, max_drawdown_pct, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), string(e.Kind), e.Reason, e.Snapshot.DrawdownPct.String(), e.Snapshot.WinRate.String(),
		e.Snapshot.ConsecutiveLosses, e.Thresholds.DailyLossLimitUSD.String(), e.Thresholds.MaxDrawdownPct.String(),
		e.OccurredAt.Unix())
	if err != nil {
		return errs.New(errs.KindTransient, "breaker.insert", err)
	}
	return nil
}

func (r *sqliteBreakerRepo) Latest(ctx context.Context) (*domain.CircuitBreakerEvent, error) {
	var (
		id, kind, reason, drawdown, winRate, lossLimit, maxDrawdown string
		consecutiveLosses                                           int
		occurredAt                                                  int64
	)
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, kind, reason, drawdown_pct, win_rate, consecutive_losses, daily_loss_limit_usd, max_drawdown_pct, occurred_at
		FROM breaker_events ORDER BY occurred_at DESC LIMIT 1`).
		Scan(&id, &kind, &reason, &drawdown, &winRate, &consecutiveLosses, &lossLimit, &maxDrawdown, &occurredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindUnknownEntity, "breaker.latest", errs.ErrNotFound)
		}
		return nil, errs.New(errs.KindTransient, "breaker.latest", err)
	}
	e := &domain.CircuitBreakerEvent{
		Kind:   domain.BreakerEventKind(kind),
		Reason: reason,
		Snapshot: domain.BreakerSnapshot{
			DrawdownPct:       mustDecimal(drawdown),
			WinRate:           mustDecimal(winRate),
			ConsecutiveLosses: consecutiveLosses,
		},
		Thresholds: domain.BreakerThresholds{
			DailyLossLimitUSD: mustDecimal(lossLimit),
			MaxDrawdownPct:    mustDecimal(maxDrawdown),
		},
		OccurredAt: unixToTime(occurredAt),
	}
	var perr error
	if e.ID, perr = uuid.Parse(id); perr != nil {
		return nil, fmt.Errorf("parse breaker event id: %w", perr)
	}
	return e, nil
}
