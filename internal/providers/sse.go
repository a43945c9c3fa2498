package providers

import (
	"bufio"
	"bytes"
	"io"
)

// EventReader returns the data payloads of a server-sent event stream, one
// per data line. Comment lines, event names and blank separators are skipped.
type EventReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func NewEventReader(body io.ReadCloser) *EventReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(nil, 8<<20)
	return &EventReader{body: body, scanner: scanner}
}

// Next returns the next data payload, or io.EOF when the body ends. The
// returned slice is only valid until the following call.
func (r *EventReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if len(payload) == 0 {
			continue
		}
		return payload, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *EventReader) Close() error {
	return r.body.Close()
}
