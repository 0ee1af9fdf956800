package storage

import (
	"context"
	"database/sql"
	"errors"

	"walltrack/internal/domain"
	"walltrack/internal/errs"
)

type sqliteTokenRepo struct{ db *DB }

// NewTokenRepo returns a TokenRepo backed by db.
func NewTokenRepo(db *DB) TokenRepo { return &sqliteTokenRepo{db: db} }

func (r *sqliteTokenRepo) Upsert(ctx context.Context, t *domain.Token) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO tokens (address, symbol, safety_score, analyzed_at, source, liquidity_pass, holders_pass, contract_pass, age_pass)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			symbol=excluded.symbol, safety_score=excluded.safety_score, analyzed_at=excluded.analyzed_at,
			source=excluded.source, liquidity_pass=excluded.liquidity_pass, holders_pass=excluded.holders_pass,
			contract_pass=excluded.contract_pass, age_pass=excluded.age_pass`,
		t.Address, t.Symbol, t.SafetyScore.String(), t.AnalyzedAt.Unix(), string(t.Source),
		boolToInt(t.LiquidityPass), boolToInt(t.HoldersPass), boolToInt(t.ContractPass), boolToInt(t.AgePass))
	if err != nil {
		return errs.New(errs.KindTransient, "token.upsert", err)
	}
	return nil
}

func (r *sqliteTokenRepo) Get(ctx context.Context, address string) (*domain.Token, error) {
	var (
		symbol, score, source                               string
		analyzedAt                                          int64
		liquidityPass, holdersPass, contractPass, agePass   int
	)
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT symbol, safety_score, analyzed_at, source, liquidity_pass, holders_pass, contract_pass, age_pass
		FROM tokens WHERE address = ?`, address).
		Scan(&symbol, &score, &analyzedAt, &source, &liquidityPass, &holdersPass, &contractPass, &agePass)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindUnknownEntity, "token.get", errs.ErrNotFound)
		}
		return nil, errs.New(errs.KindTransient, "token.get", err)
	}
	return &domain.Token{
		Address:       address,
		Symbol:        symbol,
		SafetyScore:   mustDecimal(score),
		AnalyzedAt:    unixToTime(analyzedAt),
		Source:        domain.TokenSource(source),
		LiquidityPass: liquidityPass != 0,
		HoldersPass:   holdersPass != 0,
		ContractPass:  contractPass != 0,
		AgePass:       agePass != 0,
	}, nil
}
