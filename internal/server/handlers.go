package server

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

//go:embed page.html
var defaultPage []byte

// handlePage serves the viewer page at / and /index.html and 404s everything
// else the mux routes here.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.config.Page)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write(s.config.Page)
	}
}

// handleSnapshot serves the latest frame as a single JPEG.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, gen, ok := s.config.Frames.Latest()
	if !ok {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "No frame available yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(f)))
	w.Header().Set("Cache-Control", "no-cache, private")
	w.Header().Set("X-Frame-Generation", strconv.FormatUint(gen, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(f)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.config.Frames.Stats()
	response := map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.start).Round(time.Second).String(),
		"generation": stats.Generation,
		"clients":    s.clients.count(),
	}
	if !stats.LastPublish.IsZero() {
		response["last_frame"] = stats.LastPublish
	}

	writeJSON(w, http.StatusOK, response)
}

// handleClients lists the connected stream clients.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"clients": s.clients.list(),
	})
}

// handleSessions lists recent stream sessions from the store.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := s.config.Store.Sessions().Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
