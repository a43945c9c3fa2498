package anthropic_messages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"aichat/internal/providers"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	APIVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

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

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, error) {
	system, rest := providers.SplitSystem(req.Messages)
	msgs := make([]message, 0, len(rest))
	for _, m := range rest {
		msgs = append(msgs, message{Role: m.Role, Content: m.Content})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	b, err := json.Marshal(messagesRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    msgs,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, nil
}

func (c *Client) ChatStream(ctx context.Context, req providers.ChatRequest) (providers.Stream, error) {
	body, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, providers.NewUpstreamError("anthropic", resp)
	}
	return &stream{events: providers.NewEventReader(resp.Body)}, nil
}

type stream struct {
	events *providers.EventReader
}

func (s *stream) Recv() (string, error) {
	for {
		data, err := s.events.Next()
		if err != nil {
			return "", err
		}
		switch gjson.GetBytes(data, "type").String() {
		case "content_block_delta":
			if gjson.GetBytes(data, "delta.type").String() != "text_delta" {
				continue
			}
			if text := gjson.GetBytes(data, "delta.text").String(); text != "" {
				return text, nil
			}
		case "message_stop":
			return "", io.EOF
		case "error":
			return "", fmt.Errorf("anthropic stream error: %s", gjson.GetBytes(data, "error.message").String())
		}
	}
}

func (s *stream) Close() error {
	return s.events.Close()
}
