package google_genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"aichat/internal/providers"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

var _ providers.Provider = (*Client)(nil)

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, string, error) {
	system, rest := providers.SplitSystem(req.Messages)
	out := generateRequest{Contents: make([]content, 0, len(rest))}
	for _, m := range rest {
		role := m.Role
		if role == providers.RoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	if system != "" {
		out.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		out.GenerationConfig = &generationConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("marshal generate payload: %w", err)
	}
	model := strings.TrimPrefix(req.Model, "models/")
	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.cfg.BaseURL, url.PathEscape(model))
	return b, endpoint, nil
}

func (c *Client) ChatStream(ctx context.Context, req providers.ChatRequest) (providers.Stream, error) {
	body, endpoint, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, providers.NewUpstreamError("google", resp)
	}
	return &stream{events: providers.NewEventReader(resp.Body)}, nil
}

type stream struct {
	events *providers.EventReader
}

// Recv returns the text of the next chunk that carries any. The stream ends
// when the body does.
func (s *stream) Recv() (string, error) {
	for {
		data, err := s.events.Next()
		if err != nil {
			return "", err
		}
		if msg := gjson.GetBytes(data, "error.message"); msg.Exists() {
			return "", fmt.Errorf("google stream error: %s", msg.String())
		}
		var b strings.Builder
		gjson.GetBytes(data, "candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
			if p.Get("thought").Bool() {
				return true
			}
			b.WriteString(p.Get("text").String())
			return true
		})
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
}

func (s *stream) Close() error {
	return s.events.Close()
}
