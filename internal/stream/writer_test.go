package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeStream struct {
	deltas []string
	err    error
	closed bool
}

func (f *fakeStream) Recv() (string, error) {
	if len(f.deltas) == 0 {
		if f.err != nil {
			return "", f.err
		}
		return "", io.EOF
	}
	d := f.deltas[0]
	f.deltas = f.deltas[1:]
	return d, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func parseEvents(t *testing.T, body string) []map[string]string {
	t.Helper()
	var out []map[string]string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		payload := strings.TrimPrefix(block, "data: ")
		if payload == "[DONE]" {
			out = append(out, map[string]string{"type": "[DONE]"})
			continue
		}
		var e map[string]string
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			t.Fatalf("decode event %q: %v", payload, err)
		}
		out = append(out, e)
	}
	return out
}

func types(events []map[string]string) string {
	parts := make([]string, 0, len(events))
	for _, e := range events {
		parts = append(parts, e["type"])
	}
	return strings.Join(parts, ",")
}

func TestRelayWritesUIMessageStream(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	n, err := sw.Relay(&fakeStream{deltas: []string{"Hel", "lo"}})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks, got %d", n)
	}
	if rec.Header().Get(HeaderName) != "v1" || rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}

	events := parseEvents(t, rec.Body.String())
	if got := types(events); got != "start,text-start,text-delta,text-delta,text-end,finish,[DONE]" {
		t.Fatalf("unexpected event sequence %s", got)
	}
	if events[2]["delta"] != "Hel" || events[3]["delta"] != "lo" {
		t.Fatalf("unexpected deltas %+v", events[2:4])
	}
	if events[1]["id"] == "" || events[1]["id"] != events[4]["id"] {
		t.Fatalf("text part ids must match, got %+v", events)
	}
	if !strings.HasPrefix(events[0]["messageId"], "msg-") {
		t.Fatalf("unexpected message id %q", events[0]["messageId"])
	}
}

func TestRelayReportsMidStreamError(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	upstream := errors.New("connection reset")
	_, err = sw.Relay(&fakeStream{deltas: []string{"partial"}, err: upstream})
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	events := parseEvents(t, rec.Body.String())
	if got := types(events); got != "start,text-start,text-delta,text-end,error,[DONE]" {
		t.Fatalf("unexpected event sequence %s", got)
	}
	if events[4]["errorText"] != "connection reset" {
		t.Fatalf("unexpected error text %q", events[4]["errorText"])
	}
}

func TestFinishWithoutText(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if _, err := sw.Relay(&fakeStream{}); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if got := types(parseEvents(t, rec.Body.String())); got != "start,finish,[DONE]" {
		t.Fatalf("unexpected event sequence %s", got)
	}
	if err := sw.Finish(); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if strings.Count(rec.Body.String(), "[DONE]") != 1 {
		t.Fatal("expected a single [DONE]")
	}
}
