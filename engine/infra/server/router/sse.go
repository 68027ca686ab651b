package router

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// HeaderRequestID carries the request correlation id.
const HeaderRequestID = "X-Request-ID"

// SSEStream writes Server-Sent Events and flushes after each one.
type SSEStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// StartSSE sends the event-stream headers. It returns nil when w cannot flush.
func StartSSE(w http.ResponseWriter) *SSEStream {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEStream{w: w, flusher: flusher}
}

// WriteEvent emits one event. data must not contain newlines.
func (s *SSEStream) WriteEvent(id string, event string, data []byte) error {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	if _, err := s.w.Write([]byte(b.String())); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteComment emits a comment line, used for heartbeats.
func (s *SSEStream) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// LastEventID parses the Last-Event-ID header. ok is false when it is absent.
func LastEventID(r *http.Request) (int, bool, error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, BadRequest("invalid Last-Event-ID %q", raw)
	}
	return n, true, nil
}
