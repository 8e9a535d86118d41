// File: internal/server/handlers.go
package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// executeRequest accepts both field names; "task" is the documented one,
// "description" is kept for older clients.
type executeRequest struct {
	Task        string `json:"task"`
	Description string `json:"description"`
}

type apiResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.registry.Snapshots()
	s.respondWithSuccess(w, http.StatusOK, map[string]any{
		"service":         "webagentd",
		"version":         s.version,
		"agent_connected": s.socket.Connected(),
		"active_tasks":    s.registry.CountActive(),
		"total_tasks":     len(snapshots),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.respondWithError(w, http.StatusTooManyRequests, "too many task submissions, slow down")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	goal := strings.TrimSpace(req.Task)
	if goal == "" {
		goal = strings.TrimSpace(req.Description)
	}
	if goal == "" {
		s.respondWithError(w, http.StatusBadRequest, "task description must not be empty")
		return
	}

	task := s.registry.Create(goal)
	s.engine.Submit(s.baseCtx, task)

	s.logger.Info("Task accepted",
		zap.String("task_id", task.ID()),
		zap.Bool("agent_connected", s.socket.Connected()))
	// Served bare: clients read task_id and status at the top level.
	s.respondBare(w, http.StatusAccepted, map[string]any{
		"task_id": task.ID(),
		"status":  task.Status(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	task, ok := s.registry.Get(id)
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "unknown task id")
		return
	}
	// The snapshot is the response body; its status field is the task status.
	s.respondBare(w, http.StatusOK, task.Snapshot())
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.registry.Snapshots()
	s.respondWithSuccess(w, http.StatusOK, map[string]any{
		"count": len(snapshots),
		"tasks": snapshots,
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if !s.registry.Delete(id) {
		s.respondWithError(w, http.StatusNotFound, "unknown task id")
		return
	}
	s.respondWithSuccess(w, http.StatusOK, map[string]string{"task_id": id, "status": "deleted"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	keep := 10
	if raw := r.URL.Query().Get("keep_last_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondWithError(w, http.StatusBadRequest, "keep_last_n must be a non-negative integer")
			return
		}
		keep = n
	}
	removed := s.registry.Cleanup(keep)
	s.respondWithSuccess(w, http.StatusOK, map[string]int{"removed": removed, "kept_last_n": keep})
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, apiResponse{Status: "error", Error: message})
}

func (s *Server) respondWithSuccess(w http.ResponseWriter, statusCode int, data any) {
	s.writeJSON(w, statusCode, apiResponse{Status: "success", Data: data})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, resp apiResponse) {
	s.respondBare(w, statusCode, resp)
}

// respondBare writes body as-is, without the apiResponse envelope. The execute
// and status endpoints use it because their payload shape is the contract.
func (s *Server) respondBare(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
