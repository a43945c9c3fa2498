package registry

import (
	"fmt"
	"net/http"
	"strings"

	"aichat/internal/catalog"
	"aichat/internal/providers"
	"aichat/internal/providers/anthropic_messages"
	"aichat/internal/providers/google_genai"
	"aichat/internal/providers/openai_compat"
)

const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ConfigError means the stored entry cannot produce a client. It maps to 400.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

type Options struct {
	HTTPClient *http.Client
	// AppURL and AppName are sent to OpenRouter for attribution when set.
	AppURL  string
	AppName string
}

// Build turns a catalog entry into a provider client. It does no network I/O.
func Build(cfg catalog.ProviderConfig, opts Options) (providers.Provider, error) {
	switch cfg.Provider {
	case catalog.KindOpenAI:
		return openai_compat.New(openai_compat.Config{
			Name:       string(catalog.KindOpenAI),
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			HTTPClient: opts.HTTPClient,
		}), nil

	case catalog.KindOpenRouter:
		headers := map[string]string{}
		if opts.AppURL != "" {
			headers["HTTP-Referer"] = opts.AppURL
		}
		if opts.AppName != "" {
			headers["X-Title"] = opts.AppName
		}
		return openai_compat.New(openai_compat.Config{
			Name:       string(catalog.KindOpenRouter),
			BaseURL:    OpenRouterBaseURL,
			APIKey:     cfg.APIKey,
			Headers:    headers,
			HTTPClient: opts.HTTPClient,
		}), nil

	case catalog.KindCustom:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, &ConfigError{Msg: "Custom provider requires Base URL"}
		}
		return openai_compat.New(openai_compat.Config{
			Name:       string(catalog.KindCustom),
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			HTTPClient: opts.HTTPClient,
		}), nil

	case catalog.KindAnthropic:
		return anthropic_messages.New(anthropic_messages.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			HTTPClient: opts.HTTPClient,
		}), nil

	case catalog.KindGoogle:
		return google_genai.New(google_genai.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			HTTPClient: opts.HTTPClient,
		}), nil

	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("Provider %s not supported yet", cfg.Provider)}
	}
}
