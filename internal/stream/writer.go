package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"aichat/internal/providers"
)

// HeaderName marks the body as a UI message stream for the browser client.
const HeaderName = "x-vercel-ai-ui-message-stream"

var ErrStreamingUnsupported = errors.New("streaming not supported")

type event struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Delta     string `json:"delta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

// Writer emits one assistant message as server-sent events:
// start, text-start, text-delta..., text-end, finish, [DONE].
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	msgID   string
	textID  string
	started bool
	inText  bool
	done    bool
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{
		w:       w,
		flusher: flusher,
		msgID:   "msg-" + uuid.NewString(),
		textID:  uuid.NewString(),
	}, nil
}

// Start commits the 200 response. After it, failures can only be reported
// inside the stream.
func (sw *Writer) Start() error {
	if sw.started {
		return nil
	}
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderName, "v1")
	sw.w.WriteHeader(http.StatusOK)
	sw.started = true
	return sw.write(event{Type: "start", MessageID: sw.msgID})
}

func (sw *Writer) Delta(text string) error {
	if text == "" {
		return nil
	}
	if err := sw.Start(); err != nil {
		return err
	}
	if !sw.inText {
		if err := sw.write(event{Type: "text-start", ID: sw.textID}); err != nil {
			return err
		}
		sw.inText = true
	}
	return sw.write(event{Type: "text-delta", ID: sw.textID, Delta: text})
}

func (sw *Writer) Finish() error {
	if sw.done {
		return nil
	}
	if err := sw.Start(); err != nil {
		return err
	}
	if err := sw.closeText(); err != nil {
		return err
	}
	if err := sw.write(event{Type: "finish"}); err != nil {
		return err
	}
	return sw.writeDone()
}

// Error ends the stream with an error part.
func (sw *Writer) Error(msg string) error {
	if sw.done {
		return nil
	}
	if err := sw.Start(); err != nil {
		return err
	}
	if err := sw.closeText(); err != nil {
		return err
	}
	if err := sw.write(event{Type: "error", ErrorText: msg}); err != nil {
		return err
	}
	return sw.writeDone()
}

// Relay copies src into the response until it ends. An upstream failure is
// written as an error part and returned.
func (sw *Writer) Relay(src providers.Stream) (chunks int, err error) {
	if err := sw.Start(); err != nil {
		return 0, err
	}
	for {
		delta, recvErr := src.Recv()
		if errors.Is(recvErr, io.EOF) {
			return chunks, sw.Finish()
		}
		if recvErr != nil {
			_ = sw.Error(recvErr.Error())
			return chunks, recvErr
		}
		if err := sw.Delta(delta); err != nil {
			return chunks, err
		}
		chunks++
	}
}

func (sw *Writer) closeText() error {
	if !sw.inText {
		return nil
	}
	sw.inText = false
	return sw.write(event{Type: "text-end", ID: sw.textID})
}

func (sw *Writer) write(e event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", b); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *Writer) writeDone() error {
	sw.done = true
	if _, err := fmt.Fprint(sw.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
