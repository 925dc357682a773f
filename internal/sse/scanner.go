// Package sse reassembles server-sent events from a chunked byte stream.
//
// The wire format is line-based: `data:` lines carry the payload, `:`
// lines are comments, and a blank line terminates one event. Chunk
// boundaries are arbitrary and may fall mid-line or mid-rune, so the
// scanner buffers bytes and only surfaces complete events.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Scanner yields the payloads of successive SSE events from a reader.
// It is a forward-only, non-restartable view of the stream.
type Scanner struct {
	r     *bufio.Reader
	event bytes.Buffer
	eof   bool
}

// NewScanner wraps a live byte stream, typically an HTTP response body.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the payload of the next complete event. It returns io.EOF
// once the stream is exhausted, after flushing any event the producer
// left unterminated (no trailing blank line before close).
func (s *Scanner) Next() (string, error) {
	for !s.eof {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return "", err
			}
			s.eof = true
			// A partial final line still counts as a line.
			if line != "" {
				if payload, ok := s.consume(line); ok {
					return payload, nil
				}
			}
			break
		}
		if payload, ok := s.consume(line); ok {
			return payload, nil
		}
	}

	// End of data: flush a residual event if the producer closed without
	// a terminating blank line. Dropping it here would lose the last event.
	if s.event.Len() > 0 {
		return s.flush(), nil
	}
	return "", io.EOF
}

// consume processes one line and reports whether it completed an event.
func (s *Scanner) consume(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	switch {
	case strings.TrimSpace(line) == "":
		if s.event.Len() > 0 {
			return s.flush(), true
		}
	case strings.HasPrefix(line, "data:"):
		data := strings.TrimPrefix(line[len("data:"):], " ")
		s.event.WriteString(data)
		s.event.WriteByte('\n')
	case strings.HasPrefix(line, ":"):
		// comment, ignored
	}
	return "", false
}

// flush drains the event buffer, stripping the trailing newline that
// multi-line accumulation appends after every data line.
func (s *Scanner) flush() string {
	payload := strings.TrimSuffix(s.event.String(), "\n")
	s.event.Reset()
	return payload
}
