package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reelforge/internal/models"
)

var keepAlive = 15 * time.Second

// handleEvents adapts a broker subscription to server-sent events. The stream
// closes after the terminal event or when the client goes away; leaving does
// not affect the job.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub, err := s.broker.Subscribe(chi.URLParam(r, "id"))
	if err != nil {
		_ = writeEvent(w, flusher, models.Event{Status: models.StatusFinished, Error: "Event not found"})
		return
	}
	defer sub.Close()

	if err := writeEvent(w, flusher, models.Event{Status: models.StatusProgress}); err != nil {
		return
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, ev); err != nil || ev.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, f http.Flusher, ev models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}
	f.Flush()
	return nil
}
