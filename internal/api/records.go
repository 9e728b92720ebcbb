package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log/level"

	"buildcache/internal/core"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	key := core.ProjectKey{
		GroupID:    chi.URLParam(r, "group"),
		ArtifactID: chi.URLParam(r, "artifact"),
		Version:    chi.URLParam(r, "version"),
	}
	sum := core.Checksum(chi.URLParam(r, "checksum"))
	if err := key.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sum.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.records.Find(r.Context(), key, sum)
	if err != nil {
		level.Error(s.logger).Log("msg", "find record", "project", key.String(), "checksum", sum, "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(s.logger).Log("msg", "encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
