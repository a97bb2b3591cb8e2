package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/andthedropout/claude-dev/internal/events"
	"github.com/andthedropout/claude-dev/internal/session"
)

// streamOutput streams a ticket's session output as server-sent events.
// Buffered history is replayed first, then live lines follow with no gap.
func (s *Server) streamOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no session for ticket: %s", id))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The observer runs under the session lock and must not block; a slow
	// client drops live lines rather than stalling the session. Buffered
	// history is handed back by Attach and written in full below, so replay
	// never competes with the channel capacity.
	lines := make(chan string, 256)
	obsID, replay := sess.Attach(session.ObserverFunc(func(_, line string) {
		select {
		case lines <- line:
		default:
			s.logger.Warn("output stream lagging, dropping line", "ticket", id)
		}
	}))
	defer sess.Detach(obsID)

	for _, line := range replay {
		data, _ := json.Marshal(map[string]string{"line": line})
		fmt.Fprintf(w, "event: output\ndata: %s\n\n", data)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line := <-lines:
			data, _ := json.Marshal(map[string]string{"line": line})
			fmt.Fprintf(w, "event: output\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// streamEvents streams lifecycle events as server-sent events. An optional
// ?ticket= query parameter scopes the stream to one ticket.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	evs := make(chan events.Event, 64)
	subID := s.bus.Subscribe(r.URL.Query().Get("ticket"), func(ev events.Event) {
		select {
		case evs <- ev:
		default:
			s.logger.Warn("event stream lagging, dropping event", "type", ev.Type)
		}
	})
	defer s.bus.Unsubscribe(subID)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-evs:
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
