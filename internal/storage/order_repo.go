package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
	"walltrack/internal/errs"
)

type sqliteOrderRepo struct{ db *DB }

// NewOrderRepo returns an OrderRepo backed by db.
func NewOrderRepo(db *DB) OrderRepo { return &sqliteOrderRepo{db: db} }

func (r *sqliteOrderRepo) Insert(ctx context.Context, o *domain.Order) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO orders (id, position_id, kind, mode, priority, amount_in, amount_out_expected, amount_out_actual, slippage_req, slippage_actual, status, tx_signature, retry_count, last_error, scaling_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.PositionID.String(), string(o.Kind), string(o.Mode), int(o.Priority),
		o.AmountIn.String(), o.AmountOutExpected.String(), optDecimal(o.AmountOutActual),
		o.SlippageReq.String(), optDecimal(o.SlippageActual), string(o.Status), o.TxSignature,
		o.RetryCount, o.LastError, optInt(o.ScalingLevel), o.CreatedAt.Unix(), o.UpdatedAt.Unix())
	if err != nil {
		return errs.New(errs.KindTransient, "order.insert", err)
	}
	return nil
}

func (r *sqliteOrderRepo) Update(ctx context.Context, o *domain.Order) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE orders SET amount_out_actual=?, slippage_actual=?, status=?, tx_signature=?, retry_count=?, last_error=?, updated_at=?
		WHERE id=?`,
		optDecimal(o.AmountOutActual), optDecimal(o.SlippageActual), string(o.Status), o.TxSignature,
		o.RetryCount, o.LastError, o.UpdatedAt.Unix(), o.ID.String())
	if err != nil {
		return errs.New(errs.KindTransient, "order.update", err)
	}
	return nil
}

const orderCols = `id, position_id, kind, mode, priority, amount_in, amount_out_expected, amount_out_actual, slippage_req, slippage_actual, status, tx_signature, retry_count, last_error, scaling_level, created_at, updated_at`

func (r *sqliteOrderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id.String())
	return scanOrder(row)
}

func (r *sqliteOrderRepo) FillsForPosition(ctx context.Context, positionID uuid.UUID) ([]*domain.Order, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT `+orderCols+` FROM orders WHERE position_id = ? AND status = 'filled' ORDER BY created_at ASC`, positionID.String())
	if err != nil {
		return nil, errs.New(errs.KindTransient, "order.fills_for_position", err)
	}
	defer rows.Close()
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func scanOrder(row *sql.Row) (*domain.Order, error)       { return scanOrderScanner(row) }
func scanOrderRows(rows *sql.Rows) (*domain.Order, error) { return scanOrderScanner(rows) }

func scanOrderScanner(s rowScanner) (*domain.Order, error) {
	var (
		id, positionID, kind, mode, status                                    string
		priority                                                              int
		amountIn, amountOutExpected, slippageReq                              string
		amountOutActual, slippageActual, txSignature, lastError               sql.NullString
		retryCount                                                            int
		scalingLevel                                                          sql.NullInt64
		createdAt, updatedAt                                                  int64
	)
	if err := s.Scan(&id, &positionID, &kind, &mode, &priority, &amountIn, &amountOutExpected,
		&amountOutActual, &slippageReq, &slippageActual, &status, &txSignature, &retryCount,
		&lastError, &scalingLevel, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindUnknownEntity, "order.scan", errs.ErrNotFound)
		}
		return nil, errs.New(errs.KindTransient, "order.scan", err)
	}
	o := &domain.Order{
		Kind:              domain.OrderKind(kind),
		Mode:              domain.Mode(mode),
		Priority:          domain.Priority(priority),
		AmountIn:          mustDecimal(amountIn),
		AmountOutExpected: mustDecimal(amountOutExpected),
		SlippageReq:       mustDecimal(slippageReq),
		Status:            domain.OrderStatus(status),
		RetryCount:        retryCount,
		CreatedAt:         unixToTime(createdAt),
		UpdatedAt:         unixToTime(updatedAt),
	}
	var err error
	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse order id: %w", err)
	}
	if o.PositionID, err = uuid.Parse(positionID); err != nil {
		return nil, fmt.Errorf("parse position id: %w", err)
	}
	if amountOutActual.Valid {
		d := mustDecimal(amountOutActual.String)
		o.AmountOutActual = &d
	}
	if slippageActual.Valid {
		d := mustDecimal(slippageActual.String)
		o.SlippageActual = &d
	}
	if txSignature.Valid {
		o.TxSignature = txSignature.String
	}
	if lastError.Valid {
		o.LastError = lastError.String
	}
	if scalingLevel.Valid {
		lvl := int(scalingLevel.Int64)
		o.ScalingLevel = &lvl
	}
	return o, nil
}

func optDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func optInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
