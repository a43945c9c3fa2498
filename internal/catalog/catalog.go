package catalog

import (
	"fmt"
	"strings"
)

type ProviderKind string

const (
	KindOpenAI     ProviderKind = "openai"
	KindAnthropic  ProviderKind = "anthropic"
	KindGoogle     ProviderKind = "google"
	KindOpenRouter ProviderKind = "openrouter"
	KindCustom     ProviderKind = "custom"
)

// ProviderConfig is one configured model. ID doubles as the storage key and
// the model name sent upstream.
type ProviderConfig struct {
	ID       string       `json:"id" toml:"id"`
	Name     string       `json:"name" toml:"name"`
	Provider ProviderKind `json:"provider" toml:"provider"`
	APIKey   string       `json:"apiKey" toml:"api_key"`
	BaseURL  string       `json:"baseUrl,omitempty" toml:"base_url"`
}

// PublicModel is the listing shape handed to unauthenticated clients.
type PublicModel struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Provider ProviderKind `json:"provider"`
}

type ModelList struct {
	Models  []ProviderConfig
	Version int64
}

type NotFoundError struct {
	ID        string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Model '%s' not found or configured. Available: %s", e.ID, strings.Join(e.Available, ", "))
}

type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model #%d: %s", e.Index, e.Reason)
}

// Resolve returns the entry whose ID equals id exactly. No trimming, no case
// folding, no default model.
func Resolve(models []ProviderConfig, id string) (ProviderConfig, error) {
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return ProviderConfig{}, &NotFoundError{ID: id, Available: IDs(models)}
}

func IDs(models []ProviderConfig) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		out = append(out, m.ID)
	}
	return out
}

func PublicModels(models []ProviderConfig) []PublicModel {
	out := make([]PublicModel, 0, len(models))
	for _, m := range models {
		out = append(out, PublicModel{ID: m.ID, Name: m.Name, Provider: m.Provider})
	}
	return out
}

// Validate checks the invariants a stored list must hold before it replaces
// the current one.
func Validate(models []ProviderConfig) error {
	seen := make(map[string]int, len(models))
	for i, m := range models {
		if m.ID == "" {
			return &ValidationError{Index: i, Reason: "id is required"}
		}
		if strings.TrimSpace(string(m.Provider)) == "" {
			return &ValidationError{Index: i, Reason: "provider is required"}
		}
		if prev, ok := seen[m.ID]; ok {
			return &ValidationError{Index: i, Reason: fmt.Sprintf("duplicate id %q (already used by model #%d)", m.ID, prev)}
		}
		seen[m.ID] = i
	}
	return nil
}
