package api

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// handleReady reports whether the service can actually serve a turn,
// which for us means the project workbook is reachable.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.readyCheck != nil {
		if err := s.readyCheck(); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			WriteJSON(w, http.StatusServiceUnavailable,
				map[string]string{"status": "unavailable", "reason": err.Error()}, s.logger)
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}
