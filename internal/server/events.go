package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joseph-ayodele/research-ingest/internal/api"
)

// handleEvents streams the project's change feed as server-sent events.
// The subscription is taken before "ready" is sent, so a client that seeds
// after "ready" cannot miss a change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	pid, err := s.projectFromPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, fmt.Errorf("streaming not supported"))
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sub := s.deps.Topic.Subscribe(pid)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(api.EventReady, map[string]string{"projectId": pid.String()}); err != nil {
		return
	}
	s.logger.Info("http.events.subscribed", "project_id", pid)

	heartbeat := time.NewTicker(s.deps.HeartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("http.events.closed", "project_id", pid)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := send(api.EventChange, api.Event{Op: string(ev.Op), Document: api.FromDocument(&ev.Document)}); err != nil {
				return
			}
		case <-sub.Lagged():
			if err := send(api.EventResync, map[string]int64{"dropped": sub.Dropped()}); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
