package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
	"walltrack/internal/errs"
)

type sqlitePositionRepo struct{ db *DB }

// NewPositionRepo returns a PositionRepo backed by db.
func NewPositionRepo(db *DB) PositionRepo { return &sqlitePositionRepo{db: db} }

// exitStrategyJSON/scalingLevelJSON mirror domain.ExitStrategy for the
// exit_strategy_snapshot column; positions store a frozen copy so later
// template edits never affect an open position (spec P8).
type exitStrategyJSON struct {
	ID              uuid.UUID          `json:"id"`
	Name            string             `json:"name"`
	StopLossPct     *decimal.Decimal   `json:"stop_loss_pct,omitempty"`
	TrailingStopPct *decimal.Decimal   `json:"trailing_stop_pct,omitempty"`
	ActivationPct   *decimal.Decimal   `json:"activation_pct,omitempty"`
	ScalingLevels   []scalingLevelJSON `json:"scaling_levels,omitempty"`
	MirrorExit      bool               `json:"mirror_exit"`
}

type scalingLevelJSON struct {
	TriggerPct decimal.Decimal `json:"trigger_pct"`
	Fraction   decimal.Decimal `json:"fraction"`
}

func encodeStrategy(s *domain.ExitStrategy) (string, error) {
	if s == nil {
		return "{}", nil
	}
	j := exitStrategyJSON{
		ID: s.ID, Name: s.Name, StopLossPct: s.StopLossPct,
		TrailingStopPct: s.TrailingStopPct, ActivationPct: s.ActivationPct,
		MirrorExit: s.MirrorExit,
	}
	for _, l := range s.ScalingLevels {
		j.ScalingLevels = append(j.ScalingLevels, scalingLevelJSON{TriggerPct: l.TriggerPct, Fraction: l.Fraction})
	}
	b, err := json.Marshal(j)
	return string(b), err
}

func decodeStrategy(raw string) (*domain.ExitStrategy, error) {
	var j exitStrategyJSON
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("decode exit strategy snapshot: %w", err)
	}
	s := &domain.ExitStrategy{
		ID: j.ID, Name: j.Name, StopLossPct: j.StopLossPct,
		TrailingStopPct: j.TrailingStopPct, ActivationPct: j.ActivationPct,
		MirrorExit: j.MirrorExit,
	}
	for _, l := range j.ScalingLevels {
		s.ScalingLevels = append(s.ScalingLevels, domain.ScalingLevel{TriggerPct: l.TriggerPct, Fraction: l.Fraction})
	}
	return s, nil
}

func encodeLevelsHit(m map[int]bool) string {
	b, _ := json.Marshal(m)
	return string(b)
}

func decodeLevelsHit(raw string) map[int]bool {
	out := make(map[int]bool)
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func (r *sqlitePositionRepo) Insert(ctx context.Context, p *domain.Position) error {
	return r.upsert(ctx, p, true)
}

func (r *sqlitePositionRepo) Update(ctx context.Context, p *domain.Position) error {
	return r.upsert(ctx, p, false)
}

func (r *sqlitePositionRepo) upsert(ctx context.Context, p *domain.Position, insert bool) error {
	strategyJSON, err := encodeStrategy(p.ExitStrategySnapshot)
	if err != nil {
		return fmt.Errorf("position upsert: %w", err)
	}
	if insert {
		_, err = r.db.conn.ExecContext(ctx, `
			INSERT INTO positions (id, wallet_id, token_address, mode, entry_price, entry_amount, current_amount, peak_price, current_price, realized_pnl, status, exit_strategy_snapshot, scaling_levels_hit, opened_at, closed_at, exit_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID.String(), p.WalletID.String(), p.TokenAddress, string(p.Mode),
			p.EntryPrice.String(), p.EntryAmount.String(), p.CurrentAmount.String(),
			p.PeakPrice.String(), p.CurrentPrice.String(), p.RealizedPnL.String(),
			string(p.Status), strategyJSON, encodeLevelsHit(p.ScalingLevelsHit),
			p.OpenedAt.Unix(), optUnix(p.ClosedAt), p.ExitReason)
	} else {
		_, err = r.db.conn.ExecContext(ctx, `
			UPDATE positions SET entry_price=?, entry_amount=?, current_amount=?, peak_price=?, current_price=?,
				realized_pnl=?, status=?, scaling_levels_hit=?, closed_at=?, exit_reason=?
			WHERE id=?`,
			p.EntryPrice.String(), p.EntryAmount.String(), p.CurrentAmount.String(),
			p.PeakPrice.String(), p.CurrentPrice.String(), p.RealizedPnL.String(),
			string(p.Status), encodeLevelsHit(p.ScalingLevelsHit), optUnix(p.ClosedAt), p.ExitReason, p.ID.String())
	}
	if err != nil {
		return errs.New(errs.KindTransient, "position.upsert", err)
	}
	return nil
}

const positionCols = `id, wallet_id, token_address, mode, entry_price, entry_amount, current_amount, peak_price, current_price, realized_pnl, status, exit_strategy_snapshot, scaling_levels_hit, opened_at, closed_at, exit_reason`

func (r *sqlitePositionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE id = ?`, id.String())
	return scanPosition(row)
}

func (r *sqlitePositionRepo) OpenByWalletToken(ctx context.Context, walletID uuid.UUID, tokenAddress string) (*domain.Position, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE wallet_id = ? AND token_address = ? AND status = 'open' LIMIT 1`, walletID.String(), tokenAddress)
	return scanPosition(row)
}

func (r *sqlitePositionRepo) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT `+positionCols+` FROM positions WHERE status = 'open'`)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "position.list_open", err)
	}
	defer rows.Close()
	var out []*domain.Position
	for rows.Next() {
		p, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *sqlitePositionRepo) ClosedToday(ctx context.Context, day time.Time) ([]*domain.Position, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).Unix()
	end := start + 86400
	rows, err := r.db.conn.QueryContext(ctx, `SELECT `+positionCols+` FROM positions WHERE status = 'closed' AND closed_at >= ? AND closed_at < ?`, start, end)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "position.closed_today", err)
	}
	defer rows.Close()
	var out []*domain.Position
	for rows.Next() {
		p, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPosition(row *sql.Row) (*domain.Position, error)  { return scanPositionScanner(row) }
func scanPositionRows(rows *sql.Rows) (*domain.Position, error) { return scanPositionScanner(rows) }

func scanPositionScanner(s rowScanner) (*domain.Position, error) {
	var (
		id, walletID, tokenAddress, mode                                              string
		entryPrice, entryAmount, currentAmount, peakPrice, currentPrice, realizedPnL  string
		status, strategyJSON, levelsHit                                               string
		openedAt                                                                      int64
		closedAt                                                                      sql.NullInt64
		exitReason                                                                    sql.NullString
	)
	if err := s.Scan(&id, &walletID, &tokenAddress, &mode, &entryPrice, &entryAmount, &currentAmount,
		&peakPrice, &currentPrice, &realizedPnL, &status, &strategyJSON, &levelsHit,
		&openedAt, &closedAt, &exitReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindUnknownEntity, "position.scan", errs.ErrNotFound)
		}
		return nil, errs.New(errs.KindTransient, "position.scan", err)
	}
	strategy, err := decodeStrategy(strategyJSON)
	if err != nil {
		return nil, err
	}
	p := &domain.Position{
		TokenAddress:         tokenAddress,
		Mode:                 domain.Mode(mode),
		EntryPrice:           mustDecimal(entryPrice),
		EntryAmount:          mustDecimal(entryAmount),
		CurrentAmount:        mustDecimal(currentAmount),
		PeakPrice:            mustDecimal(peakPrice),
		CurrentPrice:         mustDecimal(currentPrice),
		RealizedPnL:          mustDecimal(realizedPnL),
		Status:               domain.PositionStatus(status),
		ExitStrategySnapshot: strategy,
		ScalingLevelsHit:     decodeLevelsHit(levelsHit),
		OpenedAt:             unixToTime(openedAt),
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse position id: %w", err)
	}
	if p.WalletID, err = uuid.Parse(walletID); err != nil {
		return nil, fmt.Errorf("parse wallet id: %w", err)
	}
	if closedAt.Valid {
		t := unixToTime(closedAt.Int64)
		p.ClosedAt = &t
	}
	if exitReason.Valid {
		p.ExitReason = exitReason.String
	}
	return p, nil
}
