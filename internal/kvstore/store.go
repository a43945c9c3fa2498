package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"aichat/internal/catalog"
	"aichat/internal/storage"
)

// Store keeps configuration in Redis, one key per setting. The model list is
// a JSON array under config:models, the layout the hosted KV deployments use.
type Store struct {
	redis  *redis.Client
	prefix string
	sealer storage.Sealer
}

var _ storage.Repository = (*Store)(nil)

func New(rdb *redis.Client, prefix string, sealer storage.Sealer) *Store {
	return &Store{redis: rdb, prefix: prefix, sealer: sealer}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func (s *Store) Models(ctx context.Context) (catalog.ModelList, error) {
	vals, err := s.redis.MGet(ctx, s.key(storage.KeyModels), s.key(storage.KeyModelsVersion)).Result()
	if err != nil {
		return catalog.ModelList{}, fmt.Errorf("get models: %w", err)
	}

	models := make([]catalog.ProviderConfig, 0)
	if raw, ok := vals[0].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &models); err != nil {
			return catalog.ModelList{}, fmt.Errorf("decode models: %w", err)
		}
	}
	models, err = storage.OpenModels(s.sealer, models)
	if err != nil {
		return catalog.ModelList{}, fmt.Errorf("open api keys: %w", err)
	}

	var version int64
	if raw, ok := vals[1].(string); ok {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return catalog.ModelList{}, fmt.Errorf("parse %s: %w", storage.KeyModelsVersion, err)
		}
	}
	return catalog.ModelList{Models: models, Version: version}, nil
}

// ReplaceModels writes the list under WATCH on the version key so a
// concurrent writer turns into storage.ErrVersionConflict instead of a lost
// update.
func (s *Store) ReplaceModels(ctx context.Context, models []catalog.ProviderConfig, expectedVersion int64) (int64, error) {
	sealed, err := storage.SealModels(s.sealer, models)
	if err != nil {
		return 0, fmt.Errorf("seal api keys: %w", err)
	}
	payload, err := json.Marshal(sealed)
	if err != nil {
		return 0, fmt.Errorf("encode models: %w", err)
	}

	versionKey := s.key(storage.KeyModelsVersion)
	var next int64
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get models version: %w", err)
		}
		if expectedVersion >= 0 && expectedVersion != current {
			return storage.ErrVersionConflict
		}
		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key(storage.KeyModels), string(payload), 0)
			pipe.Set(ctx, versionKey, next, 0)
			return nil
		})
		return err
	}, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, storage.ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("replace models: %w", err)
	}
	return next, nil
}

var _ storage.KeyResealer = (*Store)(nil)

// ResealKeys rewrites the stored list with every API key sealed under the
// current master key. The version is not bumped; a concurrent replace makes
// it fail with storage.ErrVersionConflict.
func (s *Store) ResealKeys(ctx context.Context) (storage.ResealStats, error) {
	var st storage.ResealStats
	rot, err := storage.RotatorFor(s.sealer)
	if err != nil {
		return st, err
	}

	modelsKey := s.key(storage.KeyModels)
	versionKey := s.key(storage.KeyModelsVersion)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		st = storage.ResealStats{}
		raw, err := tx.Get(ctx, modelsKey).Result()
		if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get models: %w", err)
		}
		var models []catalog.ProviderConfig
		if err := json.Unmarshal([]byte(raw), &models); err != nil {
			return fmt.Errorf("decode models: %w", err)
		}
		for i := range models {
			sealed, err := storage.ResealValue(rot, models[i].APIKey, &st)
			if err != nil {
				return fmt.Errorf("reseal key for %s: %w", models[i].ID, err)
			}
			models[i].APIKey = sealed
		}
		payload, err := json.Marshal(models)
		if err != nil {
			return fmt.Errorf("encode models: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, modelsKey, string(payload), 0)
			return nil
		})
		return err
	}, modelsKey, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return storage.ResealStats{}, storage.ErrVersionConflict
	}
	if err != nil {
		return storage.ResealStats{}, err
	}
	return st, nil
}

func (s *Store) AdminPasswordHash(ctx context.Context) (string, bool, error) {
	return s.getString(ctx, storage.KeyAdminPassword)
}

func (s *Store) SetAdminPasswordHash(ctx context.Context, hash string) error {
	return s.setString(ctx, storage.KeyAdminPassword, hash)
}

func (s *Store) GlobalAuthEnabled(ctx context.Context) (bool, bool, error) {
	raw, found, err := s.getString(ctx, storage.KeyGlobalAuthEnabled)
	if err != nil || !found {
		return false, found, err
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("parse %s: %w", storage.KeyGlobalAuthEnabled, err)
	}
	return enabled, true, nil
}

func (s *Store) SetGlobalAuthEnabled(ctx context.Context, enabled bool) error {
	return s.setString(ctx, storage.KeyGlobalAuthEnabled, strconv.FormatBool(enabled))
}

func (s *Store) GlobalPassword(ctx context.Context) (string, bool, error) {
	return s.getString(ctx, storage.KeyGlobalPassword)
}

func (s *Store) SetGlobalPassword(ctx context.Context, password string) error {
	return s.setString(ctx, storage.KeyGlobalPassword, password)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.redis.Close()
}

func (s *Store) getString(ctx context.Context, name string) (string, bool, error) {
	raw, err := s.redis.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", name, err)
	}
	return raw, true, nil
}

func (s *Store) setString(ctx context.Context, name, value string) error {
	if err := s.redis.Set(ctx, s.key(name), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}
