package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/umputun/permits/app/history"
	"github.com/umputun/permits/app/permit"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HealthResponse is the JSON response for /api/health
type HealthResponse struct {
	Status  string     `json:"status"`
	Plant   string     `json:"plant,omitempty"`
	Version string     `json:"version"`
	Uptime  string     `json:"uptime"`
	History bool       `json:"history"`
	Disk    *DiskStats `json:"disk,omitempty"`
}

// DiskStats reports usage of the data volume
type DiskStats struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}

// HistoryResponse is the JSON response for /api/history
type HistoryResponse struct {
	Events []history.Event `json:"events"`
}

// handleStatus returns the current board document
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Status())
}

// handleSummary returns per-department counts and overdue KPI
func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Summary())
}

// handleConfig updates the overdue threshold
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	req := decodeBody[permit.ConfigRequest](r)
	doc, err := s.registry.SetConfig(r.Context(), req.OverdueMinutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleOpen opens a new job
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	req := decodeBody[permit.OpenRequest](r)
	doc, err := s.registry.Open(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleClose closes all jobs with the given id
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	req := decodeBody[permit.CloseRequest](r)
	doc, err := s.registry.Close(r.Context(), string(req.ID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleHistory returns recorded events, newest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSONError(w, http.StatusNotFound, "history disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.history.List(r.Context(), limit)
	if err != nil {
		log.Printf("[ERROR] failed to list history: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Events: events})
}

// handleHealth reports service state and free space of the data volume
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Plant:   s.plant,
		Version: s.version,
		Uptime:  time.Since(s.startedAt).Truncate(time.Second).String(),
		History: s.history != nil,
	}
	usage, err := disk.UsageWithContext(r.Context(), s.dataDir)
	if err != nil {
		log.Printf("[WARN] can't get disk usage of %s: %v", s.dataDir, err)
		resp.Status = "degraded"
	} else {
		resp.Disk = &DiskStats{Path: usage.Path, Total: usage.Total, Free: usage.Free, UsedPercent: usage.UsedPercent}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// decodeBody parses JSON request body. Missing or malformed body is treated as an empty object.
func decodeBody[T any](r *http.Request) T {
	var res T
	data, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[DEBUG] can't read request body: %v", err)
		return res
	}
	if len(data) == 0 {
		return res
	}
	if err := json.Unmarshal(data, &res); err != nil {
		log.Printf("[DEBUG] malformed request body for %s, treated as empty: %v", r.URL.Path, err)
		var empty T
		return empty
	}
	return res
}

// writeError maps domain errors to status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case permit.IsValidation(err):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case permit.IsConflict(err):
		s.writeJSONError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[ERROR] %s %s failed: %v", r.Method, r.URL.Path, err)
		s.writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}
