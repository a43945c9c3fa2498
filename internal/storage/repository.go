package storage

import (
	"context"
	"errors"

	"aichat/internal/catalog"
)

var (
	ErrVersionConflict = errors.New("model list was modified concurrently")
	ErrNoRotator       = errors.New("store has no sealer that can reseal keys")
)

// Setting keys shared by every backend.
const (
	KeyModels            = "config:models"
	KeyModelsVersion     = "config:models:version"
	KeyAdminPassword     = "sys:admin_password"
	KeyGlobalAuthEnabled = "sys:global_auth_enabled"
	KeyGlobalPassword    = "sys:global_password"
)

// AnyVersion disables the optimistic check in ReplaceModels.
const AnyVersion int64 = -1

// Repository is the configuration store. Each setting is an independent key;
// nothing groups writes across keys.
type Repository interface {
	Models(ctx context.Context) (catalog.ModelList, error)
	ReplaceModels(ctx context.Context, models []catalog.ProviderConfig, expectedVersion int64) (int64, error)

	AdminPasswordHash(ctx context.Context) (hash string, found bool, err error)
	SetAdminPasswordHash(ctx context.Context, hash string) error

	GlobalAuthEnabled(ctx context.Context) (enabled bool, found bool, err error)
	SetGlobalAuthEnabled(ctx context.Context, enabled bool) error

	GlobalPassword(ctx context.Context) (password string, found bool, err error)
	SetGlobalPassword(ctx context.Context, password string) error

	Ping(ctx context.Context) error
	Close() error
}

// Sealer protects API keys at rest. A nil Sealer stores them verbatim.
type Sealer interface {
	Seal(value string) (string, error)
	Open(raw string) (string, error)
}

// Rotator is a Sealer that can move stored values onto its current key.
type Rotator interface {
	Sealer
	IsSealed(raw string) bool
	Reseal(raw string) (string, error)
}

type ResealStats struct {
	Resealed  int
	Plaintext int
}

// KeyResealer rewrites every stored API key under the current master key.
type KeyResealer interface {
	ResealKeys(ctx context.Context) (ResealStats, error)
}

// ResealValue reseals one stored key and counts it. Empty keys are skipped.
func ResealValue(r Rotator, raw string, st *ResealStats) (string, error) {
	if raw == "" {
		return raw, nil
	}
	if !r.IsSealed(raw) {
		st.Plaintext++
	}
	out, err := r.Reseal(raw)
	if err != nil {
		return "", err
	}
	st.Resealed++
	return out, nil
}

// RotatorFor returns s as a Rotator, or ErrNoRotator.
func RotatorFor(s Sealer) (Rotator, error) {
	r, ok := s.(Rotator)
	if !ok {
		return nil, ErrNoRotator
	}
	return r, nil
}

func SealModels(s Sealer, models []catalog.ProviderConfig) ([]catalog.ProviderConfig, error) {
	out := make([]catalog.ProviderConfig, len(models))
	copy(out, models)
	if s == nil {
		return out, nil
	}
	for i := range out {
		sealed, err := s.Seal(out[i].APIKey)
		if err != nil {
			return nil, err
		}
		out[i].APIKey = sealed
	}
	return out, nil
}

func OpenModels(s Sealer, models []catalog.ProviderConfig) ([]catalog.ProviderConfig, error) {
	if s == nil {
		return models, nil
	}
	for i := range models {
		plain, err := s.Open(models[i].APIKey)
		if err != nil {
			return nil, err
		}
		models[i].APIKey = plain
	}
	return models, nil
}
