package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/models"
	"github.com/xaenox/mail-pilot/internal/pipeline"
	"github.com/xaenox/mail-pilot/internal/storage"
)

const defaultListLimit = 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Runs ---

type startRunRequest struct {
	pipeline.Request
	// LookbackHours overrides the configured window when messages are
	// loaded from the source.
	LookbackHours *int `json:"lookback_hours,omitempty"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := readJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if len(req.Messages) == 0 && s.source != nil {
		lookback := s.lookback
		if req.LookbackHours != nil {
			if *req.LookbackHours < 0 {
				s.writeError(w, http.StatusBadRequest, "lookback_hours must not be negative")
				return
			}
			lookback = time.Duration(*req.LookbackHours) * time.Hour
		}
		msgs, err := s.source.Fetch(r.Context(), lookback)
		if err != nil {
			s.logger.Error("Failed to load messages", zap.Error(err))
			s.writeError(w, http.StatusBadGateway, "load messages: "+err.Error())
			return
		}
		req.Messages = msgs
	}

	h, err := s.pipeline.Run(r.Context(), req.Request)
	switch {
	case errors.Is(err, pipeline.ErrRunActive):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to start run", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Request problems end the run before Run returns.
	select {
	case <-h.Done():
		if _, werr := h.Wait(r.Context()); werr != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"run_id": h.RunID,
				"error":  werr.Error(),
			})
			return
		}
	default:
	}

	s.writeJSON(w, http.StatusAccepted, startRunResponse{RunID: h.RunID, Stage: string(s.pipeline.Poll().Stage)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.pipeline.Poll()
	// The payload is served by /api/results.
	state.Result = nil
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.Result()
	if errors.Is(err, pipeline.ErrNoResult) {
		s.writeError(w, http.StatusNotFound, "no results available")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// --- History ---

type runSummary struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	Stage       string    `json:"stage"`
	Total       int       `json:"total"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func summaryOf(rec *models.RunRecord) runSummary {
	return runSummary{
		ID:          rec.ID,
		Method:      rec.Method,
		Stage:       rec.Stage,
		Total:       rec.Total,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.storage.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runSummary, len(runs))
	for i, rec := range runs {
		out[i] = summaryOf(rec)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

type runDetail struct {
	runSummary
	Result json.RawMessage `json:"result"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	rec, err := s.storage.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load run", zap.String("run_id", r.PathValue("id")), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.writeJSON(w, http.StatusOK, runDetail{runSummary: summaryOf(rec), Result: rec.Payload})
}
