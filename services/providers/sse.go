package providers

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

const maxSSELine = 4 * 1024 * 1024

// SSEReader parses a text/event-stream body into events.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader wraps r with a line scanner sized for large tool-call payloads
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSSELine)
	return &SSEReader{scanner: scanner}
}

// Next returns the next event with data. Comments, id: and retry: lines are
// skipped. It returns io.EOF when the body ends.
func (r *SSEReader) Next() (*SSEEvent, error) {
	var (
		event     string
		dataLines []string
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if len(dataLines) > 0 {
				return &SSEEvent{Event: event, Data: []byte(strings.Join(dataLines, "\n"))}, nil
			}
			event = ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			dataLines = append(dataLines, data)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}
	// A final event without its blank-line terminator still counts.
	if len(dataLines) > 0 {
		return &SSEEvent{Event: event, Data: []byte(strings.Join(dataLines, "\n"))}, nil
	}
	return nil, io.EOF
}

// WriteSSE writes one event frame. Multi-line data is split across data: lines.
func WriteSSE(w io.Writer, ev SSEEvent) error {
	var buf bytes.Buffer
	if ev.Event != "" {
		buf.WriteString("event: ")
		buf.WriteString(ev.Event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(ev.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// IsDone reports whether the event is the OpenAI-style [DONE] sentinel
func IsDone(ev *SSEEvent) bool {
	return bytes.Equal(bytes.TrimSpace(ev.Data), []byte("[DONE]"))
}
