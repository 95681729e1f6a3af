package server

import (
	"encoding/json"
	"net/http"

	"github.com/skalibog/confluence/internal/presenter"
	"github.com/skalibog/confluence/pkg/logger"
	"go.uber.org/zap"
)

type statusResponse struct {
	Cycle     uint64      `json:"cycle"`
	Pending   bool        `json:"pending"`
	Scheduler interface{} `json:"scheduler,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.presenter.Build(s.store.Snapshot()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presenter.Stats(s.store.Snapshot().Stats))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	resp := statusResponse{Cycle: snap.Cycle, Pending: snap.Pending != nil}
	if s.status != nil {
		resp.Scheduler = s.status.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Ошибка записи ответа", zap.Error(err))
	}
}
