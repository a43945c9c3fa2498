package registry

import (
	"errors"
	"testing"

	"aichat/internal/catalog"
	"aichat/internal/providers/anthropic_messages"
	"aichat/internal/providers/google_genai"
	"aichat/internal/providers/openai_compat"
)

func TestBuildDispatchesOnProvider(t *testing.T) {
	cases := []struct {
		cfg  catalog.ProviderConfig
		want string
	}{
		{catalog.ProviderConfig{ID: "gpt-4o", Provider: catalog.KindOpenAI}, "openai"},
		{catalog.ProviderConfig{ID: "meta/llama", Provider: catalog.KindOpenRouter}, "openai"},
		{catalog.ProviderConfig{ID: "m", Provider: catalog.KindCustom, BaseURL: "https://api.302.ai/v1"}, "openai"},
		{catalog.ProviderConfig{ID: "claude", Provider: catalog.KindAnthropic}, "anthropic"},
		{catalog.ProviderConfig{ID: "gemini", Provider: catalog.KindGoogle}, "google"},
	}
	for _, tc := range cases {
		p, err := Build(tc.cfg, Options{})
		if err != nil {
			t.Fatalf("%s: build: %v", tc.cfg.Provider, err)
		}
		var got string
		switch p.(type) {
		case *openai_compat.Client:
			got = "openai"
		case *anthropic_messages.Client:
			got = "anthropic"
		case *google_genai.Client:
			got = "google"
		}
		if got != tc.want {
			t.Fatalf("%s: expected %s client, got %T", tc.cfg.Provider, tc.want, p)
		}
	}
}

func TestBuildCustomRequiresBaseURL(t *testing.T) {
	for _, key := range []string{"", "sk-present"} {
		_, err := Build(catalog.ProviderConfig{ID: "m", Provider: catalog.KindCustom, APIKey: key, BaseURL: "  "}, Options{})
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("apiKey=%q: expected config error, got %v", key, err)
		}
		if cfgErr.Error() != "Custom provider requires Base URL" {
			t.Fatalf("unexpected message %q", cfgErr.Error())
		}
	}
}

func TestBuildUnknownProvider(t *testing.T) {
	_, err := Build(catalog.ProviderConfig{ID: "m", Provider: "mistral"}, Options{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Error() != "Provider mistral not supported yet" {
		t.Fatalf("unexpected error %v", err)
	}
}
