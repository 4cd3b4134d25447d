package server

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/orchestrator"
)

// checkStreamOrigin allows same-origin requests (no Origin header) and any
// localhost origin, rejecting everything else as a CSRF precaution.
func checkStreamOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

var streamUpgrader = websocket.Upgrader{CheckOrigin: checkStreamOrigin}

// handleStream serves the additive GET /api/runs/{run_id}/stream endpoint:
// a websocket relaying this run's stage events as they are published on
// the event bus. It is additive to spec §4.7's table, not a replacement
// for any listed endpoint, and reports 422 dependency_missing when no bus
// was wired at startup.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.respondError(w, errs.New(errs.DependencyMissing, "event streaming is not enabled"))
		return
	}
	runID := mux.Vars(r)["run_id"]

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade stream for run %s: %v", runID, err)
		return
	}
	defer conn.Close()

	// readPump drains client frames (pings, close) so the connection's read
	// deadline logic keeps working and we notice disconnects promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub, err := s.bus.Subscribe(runID, func(event orchestrator.StageEvent) {
		if writeErr := conn.WriteJSON(event); writeErr != nil {
			s.log.Warn("write stage event for run %s: %v", runID, writeErr)
		}
	})
	if err != nil {
		s.log.Warn("subscribe stream for run %s: %v", runID, err)
		return
	}
	defer sub.Unsubscribe()

	<-closed
}
