package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// eventStream writes server-sent events, one JSON object per event:
//
//	data: {"type":"token","content":"..."}
//	data: {"type":"query","payload":{...}}
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	f, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: f}
}

func (s *eventStream) send(eventType, content string) error {
	data, err := json.Marshal(map[string]string{"type": eventType, "content": content})
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *eventStream) sendJSON(eventType string, payload any) error {
	data, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{eventType, payload})
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *eventStream) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
