package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
)

// EventsHandler serves the workflow event stream over Server-Sent
// Events. Disconnecting a client drops its subscription but never
// cancels in-flight workflow work.
type EventsHandler struct {
	bus       *events.Bus
	keepAlive time.Duration
}

// NewEventsHandler creates the SSE handler.
func NewEventsHandler(bus *events.Bus, keepAlive time.Duration) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &EventsHandler{bus: bus, keepAlive: keepAlive}
}

// Stream subscribes the client to the event bus and forwards events as
// SSE messages until the client disconnects. The kinds query parameter
// optionally filters by event kind: /events?kinds=progress,log
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError(w, "streaming unsupported by this connection")
		return
	}

	var kinds []events.Kind
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, events.Kind(k))
			}
		}
	}

	ch, cancel := h.bus.Subscribe(kinds...)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Debug("event stream subscribed", "kinds", kinds, "remote_addr", r.RemoteAddr)

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("event stream client disconnected", "remote_addr", r.RemoteAddr)
			return
		case <-keepAlive.C:
			// SSE comment line; keeps proxies from closing the stream.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in SSE wire format: the event field carries
// the kind, the data field the full JSON event envelope.
func writeSSE(w http.ResponseWriter, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
