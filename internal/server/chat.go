package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"aichat/internal/catalog"
	"aichat/internal/providers"
	"aichat/internal/providers/registry"
	"aichat/internal/stream"
)

type chatRequest struct {
	Messages []uiMessage `json:"messages"`
	ModelID  string      `json:"modelId"`
	// Optional sampling overrides; zero leaves the provider default.
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type uiPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// uiMessage accepts both the plain {role, content} shape and the browser
// client's {role, parts} shape.
type uiMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Parts   []uiPart        `json:"parts,omitempty"`
}

func (m uiMessage) text() string {
	if len(m.Content) > 0 {
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			return s
		}
		var parts []uiPart
		if err := json.Unmarshal(m.Content, &parts); err == nil {
			return joinText(parts)
		}
	}
	return joinText(m.Parts)
}

func joinText(parts []uiPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" || p.Type == "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func toProviderMessages(in []uiMessage) []providers.Message {
	out := make([]providers.Message, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case providers.RoleSystem, providers.RoleUser, providers.RoleAssistant:
		default:
			continue
		}
		text := m.text()
		if text == "" {
			continue
		}
		out = append(out, providers.Message{Role: m.Role, Content: text})
	}
	return out
}

// handleChat answers with plain-text errors until the stream starts; the
// browser client shows the body verbatim.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MaxTokens < 0 || req.Temperature < 0 || req.Temperature > 2 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	list, err := s.cfg.Store.Models(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("chat: load model list")
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	cfg, err := catalog.Resolve(list.Models, req.ModelID)
	if err != nil {
		s.m.ChatRequests.WithLabelValues("unknown", "not_found").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind := string(cfg.Provider)

	provider, err := s.cfg.BuildProvider(cfg, s.cfg.ProviderOptions)
	if err != nil {
		var cfgErr *registry.ConfigError
		if errors.As(err, &cfgErr) {
			s.m.ChatRequests.WithLabelValues(kind, "config_error").Inc()
			http.Error(w, cfgErr.Error(), http.StatusBadRequest)
			return
		}
		s.m.ChatRequests.WithLabelValues(kind, "error").Inc()
		s.logger.Error().Err(err).Str("model", cfg.ID).Str("provider", kind).Msg("chat: build provider")
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatMaxDuration)
	defer cancel()

	start := time.Now()
	upstream, err := provider.ChatStream(ctx, providers.ChatRequest{
		Model:       cfg.ID,
		Messages:    toProviderMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		s.m.ChatRequests.WithLabelValues(kind, "upstream_error").Inc()
		s.logger.Error().Err(err).Str("model", cfg.ID).Str("provider", kind).Msg("chat: open upstream stream")
		msg := err.Error()
		var upErr *providers.UpstreamError
		if errors.As(err, &upErr) && upErr.Message != "" {
			msg = upErr.Message
		}
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	defer upstream.Close()

	sw, err := stream.NewWriter(w)
	if err != nil {
		s.m.ChatRequests.WithLabelValues(kind, "error").Inc()
		s.logger.Error().Err(err).Msg("chat: response writer cannot stream")
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	chunks, err := sw.Relay(upstream)
	s.m.ChatStreamTime.Observe(time.Since(start).Seconds())
	if err != nil {
		s.m.ChatRequests.WithLabelValues(kind, "stream_error").Inc()
		s.logger.Error().Err(err).Str("model", cfg.ID).Str("provider", kind).Int("chunks", chunks).Msg("chat: stream interrupted")
		return
	}
	s.m.ChatRequests.WithLabelValues(kind, "ok").Inc()
	s.logger.Debug().Str("model", cfg.ID).Str("provider", kind).Int("chunks", chunks).Msg("chat: stream finished")
}
