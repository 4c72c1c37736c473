package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// sseWriter writes Server-Sent Events to an http.ResponseWriter, adapted
// from the emergent-company-emergent example's pkg/sse.Writer
// (Start/WriteEvent/WriteComment shape) down to the subset this transport
// needs.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.flusher == nil {
		return fmt.Errorf("response writer does not support flushing")
	}
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.started = true
	return nil
}

func (s *sseWriter) writeEvent(event string, data interface{}) error {
	var payload []byte
	if str, ok := data.(string); ok {
		payload = []byte(str)
	} else {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = encoded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeComment(comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

const keepAliveInterval = 25 * time.Second

// keepAlive blocks, writing periodic SSE comments, until ctx is done or a
// write fails (client disconnected).
func keepAlive(ctx context.Context, w *sseWriter) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.writeComment("keep-alive"); err != nil {
				return
			}
		}
	}
}
