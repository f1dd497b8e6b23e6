// Package server provides the HTTP server and routing for the trading
// execution engine.
package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/events"
)

// EventsStreamHandler streams every emitted events.Event to connected
// clients over Server-Sent Events, generalized from the teacher's
// unified event stream but against the real events.Manager/Subscriber
// API rather than a typed bus of its own.
type EventsStreamHandler struct {
	manager *events.Manager
	log     zerolog.Logger
}

// NewEventsStreamHandler creates a new unified events stream handler.
func NewEventsStreamHandler(manager *events.Manager, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		manager: manager,
		log:     log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	typesFilter := r.URL.Query().Get("types")
	var allowedTypes map[events.EventType]bool
	if typesFilter != "" {
		allowedTypes = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowedTypes[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	h.log.Info().Str("types_filter", typesFilter).Str("remote_addr", r.RemoteAddr).
		Msg("client connected to event stream")

	eventChan := make(chan events.Event, 100)
	h.manager.Subscribe(func(evt events.Event) {
		if allowedTypes != nil && !allowedTypes[evt.Type] {
			return
		}
		select {
		case eventChan <- evt:
		default:
			h.log.Warn().Str("event_type", string(evt.Type)).Msg("event channel full, dropping event")
		}
	})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("remote_addr", r.RemoteAddr).Msg("client disconnected from event stream")
			return
		case evt := <-eventChan:
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
