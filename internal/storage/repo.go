package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"

	"aichat/internal/catalog"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Models(ctx context.Context) (catalog.ModelList, error) {
	q := s.sql.Select("id", "name", "provider", "enc_api_key", "base_url").
		From("provider_configs").
		OrderBy("position ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return catalog.ModelList{}, fmt.Errorf("build list models query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return catalog.ModelList{}, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	models := make([]catalog.ProviderConfig, 0)
	for rows.Next() {
		var m catalog.ProviderConfig
		var provider string
		if err := rows.Scan(&m.ID, &m.Name, &provider, &m.APIKey, &m.BaseURL); err != nil {
			return catalog.ModelList{}, fmt.Errorf("scan model row: %w", err)
		}
		m.Provider = catalog.ProviderKind(provider)
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return catalog.ModelList{}, fmt.Errorf("iterate model rows: %w", err)
	}

	models, err = OpenModels(s.sealer, models)
	if err != nil {
		return catalog.ModelList{}, fmt.Errorf("open api keys: %w", err)
	}

	version, err := s.modelsVersion(ctx, s.db)
	if err != nil {
		return catalog.ModelList{}, err
	}
	return catalog.ModelList{Models: models, Version: version}, nil
}

// ReplaceModels swaps the whole list in one transaction and bumps the version.
// The version row is claimed before the list is touched: a locking read on
// postgres, and a compare-and-set on the stored value for every driver, so
// two writers pinned to the same version cannot both commit.
func (s *Store) ReplaceModels(ctx context.Context, models []catalog.ProviderConfig, expectedVersion int64) (int64, error) {
	sealed, err := SealModels(s.sealer, models)
	if err != nil {
		return 0, fmt.Errorf("seal api keys: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace models: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.lockModelsVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	if expectedVersion >= 0 && expectedVersion != current {
		return 0, ErrVersionConflict
	}
	next := current + 1
	if err := s.bumpModelsVersion(ctx, tx, current, next); err != nil {
		return 0, err
	}

	delStr, delArgs, err := s.sql.Delete("provider_configs").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete models query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delStr, delArgs...); err != nil {
		return 0, fmt.Errorf("delete models: %w", err)
	}

	if len(sealed) > 0 {
		ins := s.sql.Insert("provider_configs").Columns("id", "position", "name", "provider", "enc_api_key", "base_url")
		for i, m := range sealed {
			ins = ins.Values(m.ID, i, m.Name, string(m.Provider), m.APIKey, m.BaseURL)
		}
		insStr, insArgs, err := ins.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build insert models query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insStr, insArgs...); err != nil {
			return 0, fmt.Errorf("insert models: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace models: %w", err)
	}
	return next, nil
}

// lockModelsVersion makes sure the version row exists and reads it. On
// postgres the read holds the row lock until the transaction ends, so a
// concurrent writer waits and then sees the committed version.
func (s *Store) lockModelsVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	ensure := s.sql.Insert("settings").
		Columns("name", "value", "updated_at").
		Values(KeyModelsVersion, "0", nowExpr(s.driver)).
		Suffix("ON CONFLICT(name) DO NOTHING")
	sqlStr, args, err := ensure.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build ensure version query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("ensure models version: %w", err)
	}

	q := s.sql.Select("value").From("settings").Where(sq.Eq{"name": KeyModelsVersion})
	if s.driver == "postgres" {
		q = q.Suffix("FOR UPDATE")
	}
	sqlStr, args, err = q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build lock version query: %w", err)
	}
	var raw string
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&raw); err != nil {
		return 0, fmt.Errorf("lock models version: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", KeyModelsVersion, err)
	}
	return v, nil
}

// bumpModelsVersion moves the version from current to next only if nobody
// else has moved it.
func (s *Store) bumpModelsVersion(ctx context.Context, tx *sql.Tx, current, next int64) error {
	upd := s.sql.Update("settings").
		Set("value", strconv.FormatInt(next, 10)).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"name": KeyModelsVersion, "value": strconv.FormatInt(current, 10)})
	sqlStr, args, err := upd.ToSql()
	if err != nil {
		return fmt.Errorf("build bump version query: %w", err)
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("bump models version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump models version: %w", err)
	}
	if n != 1 {
		return ErrVersionConflict
	}
	return nil
}

var _ KeyResealer = (*Store)(nil)

// ResealKeys rewrites every stored API key under the current master key. It
// holds the version row so it cannot interleave with a list replace; the
// version itself is left alone since the list did not change.
func (s *Store) ResealKeys(ctx context.Context) (ResealStats, error) {
	var st ResealStats
	rot, err := RotatorFor(s.sealer)
	if err != nil {
		return st, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("begin reseal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.lockModelsVersion(ctx, tx); err != nil {
		return st, err
	}

	sqlStr, args, err := s.sql.Select("id", "enc_api_key").From("provider_configs").ToSql()
	if err != nil {
		return st, fmt.Errorf("build list keys query: %w", err)
	}
	rows, err := tx.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return st, fmt.Errorf("list keys: %w", err)
	}
	type row struct{ id, key string }
	var stored []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.key); err != nil {
			rows.Close()
			return st, fmt.Errorf("scan key row: %w", err)
		}
		stored = append(stored, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate key rows: %w", err)
	}

	for _, r := range stored {
		sealed, err := ResealValue(rot, r.key, &st)
		if err != nil {
			return ResealStats{}, fmt.Errorf("reseal key for %s: %w", r.id, err)
		}
		if sealed == r.key {
			continue
		}
		upd, updArgs, err := s.sql.Update("provider_configs").Set("enc_api_key", sealed).Where(sq.Eq{"id": r.id}).ToSql()
		if err != nil {
			return ResealStats{}, fmt.Errorf("build update key query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upd, updArgs...); err != nil {
			return ResealStats{}, fmt.Errorf("update key for %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ResealStats{}, fmt.Errorf("commit reseal: %w", err)
	}
	return st, nil
}

func (s *Store) AdminPasswordHash(ctx context.Context) (string, bool, error) {
	return s.getSetting(ctx, s.db, KeyAdminPassword)
}

func (s *Store) SetAdminPasswordHash(ctx context.Context, hash string) error {
	return s.putSetting(ctx, s.db, KeyAdminPassword, hash)
}

func (s *Store) GlobalAuthEnabled(ctx context.Context) (bool, bool, error) {
	raw, found, err := s.getSetting(ctx, s.db, KeyGlobalAuthEnabled)
	if err != nil || !found {
		return false, found, err
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("parse %s: %w", KeyGlobalAuthEnabled, err)
	}
	return enabled, true, nil
}

func (s *Store) SetGlobalAuthEnabled(ctx context.Context, enabled bool) error {
	return s.putSetting(ctx, s.db, KeyGlobalAuthEnabled, strconv.FormatBool(enabled))
}

func (s *Store) GlobalPassword(ctx context.Context) (string, bool, error) {
	return s.getSetting(ctx, s.db, KeyGlobalPassword)
}

func (s *Store) SetGlobalPassword(ctx context.Context, password string) error {
	return s.putSetting(ctx, s.db, KeyGlobalPassword, password)
}

func (s *Store) modelsVersion(ctx context.Context, q queryer) (int64, error) {
	raw, found, err := s.getSetting(ctx, q, KeyModelsVersion)
	if err != nil || !found {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", KeyModelsVersion, err)
	}
	return v, nil
}

func (s *Store) getSetting(ctx context.Context, q queryer, name string) (string, bool, error) {
	sqlStr, args, err := s.sql.Select("value").From("settings").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build get setting query: %w", err)
	}
	var value string
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) putSetting(ctx context.Context, q queryer, name, value string) error {
	ins := s.sql.Insert("settings").
		Columns("name", "value", "updated_at").
		Values(name, value, nowExpr(s.driver)).
		Suffix("ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at")

	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build put setting query: %w", err)
	}
	if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put setting %s: %w", name, err)
	}
	return nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
