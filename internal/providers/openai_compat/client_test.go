package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"aichat/internal/providers"
)

func TestChatStreamRelaysDeltas(t *testing.T) {
	var gotPath, gotAuth, gotTitle string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{Name: "custom", BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Headers: map[string]string{"X-Title": "aichat"}})
	stream, err := c.ChatStream(context.Background(), providers.ChatRequest{
		Model: "my-model",
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "be brief"},
			{Role: providers.RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	defer stream.Close()

	var text string
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		text += delta
	}
	if text != "Hello" {
		t.Fatalf("expected Hello, got %q", text)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotTitle != "aichat" {
		t.Fatalf("expected extra header forwarded, got %q", gotTitle)
	}
	if payload["model"] != "my-model" || payload["stream"] != true {
		t.Fatalf("unexpected payload %#v", payload)
	}
	msgs, ok := payload["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected both messages forwarded, got %#v", payload["messages"])
	}
}

func TestChatStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := New(Config{Name: "openai", BaseURL: srv.URL, APIKey: "bad"})
	_, err := c.ChatStream(context.Background(), providers.ChatRequest{Model: "gpt-4o", Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}}})
	var upErr *providers.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upErr.StatusCode != http.StatusUnauthorized || upErr.Message != "Incorrect API key provided" {
		t.Fatalf("unexpected upstream error %+v", upErr)
	}
}
