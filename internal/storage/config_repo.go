package storage

import (
	"context"
	"database/sql"
	"errors"

	"walltrack/internal/errs"
)

type sqliteConfigRepo struct{ db *DB }

// NewConfigRepo returns a ConfigRepo backed by db, used for operator
// overrides that should survive restarts independent of the YAML file.
func NewConfigRepo(db *DB) ConfigRepo { return &sqliteConfigRepo{db: db} }

func (r *sqliteConfigRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.conn.QueryRowContext(ctx, `SELECT value FROM config_overrides WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errs.New(errs.KindTransient, "config.get", err)
	}
	return value, true, nil
}

func (r *sqliteConfigRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO config_overrides (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errs.New(errs.KindTransient, "config.set", err)
	}
	return nil
}

func (r *sqliteConfigRepo) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT key, value FROM config_overrides`)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "config.all", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errs.New(errs.KindTransient, "config.all", err)
		}
		out[k] = v
	}
	return out, nil
}
