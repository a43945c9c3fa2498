package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Stream yields text deltas. Recv returns io.EOF once the upstream finished.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Provider interface {
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
}

// UpstreamError is a non-2xx answer from a provider API.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// NewUpstreamError drains a failed response and pulls the provider's own
// error message out of the usual JSON shapes.
func NewUpstreamError(provider string, resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := ""
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			msg = v.String()
			break
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return &UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
}

// SplitSystem separates system messages from the conversation, for APIs that
// take the system prompt as its own field.
func SplitSystem(msgs []Message) (system string, rest []Message) {
	var parts []string
	rest = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				parts = append(parts, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
