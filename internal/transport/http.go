// Package transport is the glue layer binding the HTTP and WebSocket
// endpoints onto the core packages: a bare net/http.ServeMux, JSON
// request/response translation, and a Prometheus /metrics handler. No
// business logic lives here.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nodalflow/voxplane/internal/notify"
	"github.com/nodalflow/voxplane/internal/queue"
	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// Scheduler is the narrow slice of the queue scheduler the HTTP surface calls into.
type Scheduler interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.EnqueueResult, error)
	GetQueue(name voxmodels.QueueName, requester queue.Requester, filter queue.Filter, specificUser string) ([]voxmodels.Metadata, error)
	Reset() queue.ResetResult
	DeliverMessage(ctx context.Context, requester queue.Requester, jobID, message string, priority voxmodels.Priority) (string, error)
}

// Interactions is the narrow slice of the notification hub the job-interactions endpoint uses.
type Interactions interface {
	Interactions(requester notify.Requester, jobID string) (voxmodels.Metadata, []voxmodels.Notification, error)
}

// Authenticator resolves an inbound HTTP request to a Requester — an
// external collaborator; the composition root wires a real
// implementation.
type Authenticator interface {
	Authenticate(r *http.Request) (queue.Requester, error)
}

// Server wires the HTTP surface onto a Scheduler, a notify.Hub (for both
// Interactions and the WebSocket endpoints), and an Authenticator.
type Server struct {
	scheduler     Scheduler
	interactions  Interactions
	hub           *notify.Hub
	auth          Authenticator
	tokenVerifier notify.TokenVerifier
	logger        *slog.Logger
}

// NewServer builds the transport glue over the core components.
func NewServer(scheduler Scheduler, interactions Interactions, hub *notify.Hub, auth Authenticator, tokenVerifier notify.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		scheduler:     scheduler,
		interactions:  interactions,
		hub:           hub,
		auth:          auth,
		tokenVerifier: tokenVerifier,
		logger:        logger,
	}
}

// Mux builds the *http.ServeMux: five JSON endpoints,
// two WebSocket endpoints, and a Prometheus /metrics handler.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/push", instrument("push", s.handlePush))
	mux.HandleFunc("/api/get-queue/", instrument("get-queue", s.handleGetQueue))
	mux.HandleFunc("/api/reset-queues", instrument("reset-queues", s.handleResetQueues))
	mux.HandleFunc("/api/get-job-interactions/", instrument("get-job-interactions", s.handleGetJobInteractions))
	mux.HandleFunc("/api/jobs/", instrument("job-message", s.handleJobMessage))

	mux.HandleFunc("/ws/audio/", s.handleWSAudio)
	mux.HandleFunc("/ws/queue/", s.handleWSQueue)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a voxerr.Kind to an HTTP status: validation 400,
// authorization 403, not-found 404, code generation exhausted 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch voxerr.KindOf(err) {
	case voxerr.Validation:
		status = http.StatusBadRequest
	case voxerr.Authorization:
		status = http.StatusForbidden
	case voxerr.NotFound:
		status = http.StatusNotFound
	case voxerr.CodeGenerationFailed:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) authenticate(r *http.Request) (queue.Requester, error) {
	if s.auth == nil {
		return queue.Requester{}, voxerr.New(voxerr.Authorization, "no authenticator configured")
	}
	return s.auth.Authenticate(r)
}

// handlePush handles "POST /api/push": enqueue a job.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requester, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var body struct {
		Question    string `json:"question"`
		WebsocketID string `json:"websocket_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := s.scheduler.Enqueue(r.Context(), queue.EnqueueRequest{
		Question:    body.Question,
		WebsocketID: body.WebsocketID,
		UserID:      requester.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       result.Status,
		"job_id":       result.IDHash,
		"websocket_id": body.WebsocketID,
		"user_id":      requester.UserID,
	})
}

// handleGetQueue handles "GET /api/get-queue/{name}".
func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requester, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/get-queue/")
	queueName, ok := voxmodels.ParseQueueName(mapQueueAlias(name))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue " + name})
		return
	}

	filter, specificUser := parseUserFilter(r.URL.Query().Get("user_filter"), requester)

	jobs, err := s.scheduler.GetQueue(queueName, requester, filter, specificUser)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		fmt.Sprintf("%s_jobs_metadata", name): jobs,
		"filtered_by":                         string(filter),
		"is_admin_view":                       requester.IsAdmin,
		"total_jobs":                          len(jobs),
	})
}

// mapQueueAlias translates the HTTP surface's "run" alias onto the internal "running" queue name.
func mapQueueAlias(name string) string {
	if name == "run" {
		return "running"
	}
	return name
}

// parseUserFilter resolves the user_filter query param: a regular user
// is forced to "self" regardless of what it asks for; an admin may request
// self/specific_user/all.
func parseUserFilter(raw string, requester queue.Requester) (queue.Filter, string) {
	if !requester.IsAdmin {
		return queue.FilterSelf, ""
	}
	switch {
	case raw == "" || raw == "self":
		return queue.FilterSelf, ""
	case raw == "*":
		return queue.FilterAll, ""
	default:
		return queue.FilterSpecificUser, raw
	}
}

// handleResetQueues handles "POST /api/reset-queues".
func (s *Server) handleResetQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requester, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	if !requester.IsAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}

	result := s.scheduler.Reset()
	notifications := 0
	if s.hub != nil {
		notifications = s.hub.ClearNotifications()
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"todo":          result.Todo,
		"running":       result.Running,
		"done":          result.Done,
		"dead":          result.Dead,
		"notifications": notifications,
	})
}

// handleGetJobInteractions handles
// "GET /api/get-job-interactions/{job_id}".
func (s *Server) handleGetJobInteractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requester, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/get-job-interactions/")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job_id required"})
		return
	}

	metadata, notifications, err := s.interactions.Interactions(notify.Requester{UserID: requester.UserID, IsAdmin: requester.IsAdmin}, jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metadata":      metadata,
		"notifications": notifications,
	})
}

// handleJobMessage handles "POST /api/jobs/{job_id}/message":
// deliver a user-initiated message to a running job.
func (s *Server) handleJobMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requester, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/message")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job_id required"})
		return
	}

	var body struct {
		Message  string `json:"message"`
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	priority := voxmodels.PriorityMedium
	if body.Priority == "urgent" {
		priority = voxmodels.PriorityUrgent
	}

	id, err := s.scheduler.DeliverMessage(r.Context(), requester, jobID, body.Message, priority)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"notification_id": id})
}

// handleWSAudio handles "GET /ws/audio/{session_id}".
func (s *Server) handleWSAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/audio/")
	s.hub.ServeAudio(w, r, sessionID)
}

// handleWSQueue handles "GET /ws/queue/{session_id}".
func (s *Server) handleWSQueue(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/queue/")
	s.hub.ServeQueue(w, r, sessionID, s.tokenVerifier)
}
