package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// MemNotificationStore is the default in-process NotificationStore.
type MemNotificationStore struct {
	mu   sync.RWMutex
	rows []voxmodels.Notification
}

// NewMemNotificationStore builds an empty in-process store.
func NewMemNotificationStore() *MemNotificationStore { return &MemNotificationStore{} }

func (s *MemNotificationStore) Insert(n *voxmodels.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *n)
	return nil
}

func (s *MemNotificationStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rows)
	s.rows = nil
	return n
}

func (s *MemNotificationStore) ByJobID(jobID string) []voxmodels.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []voxmodels.Notification
	for _, n := range s.rows {
		if n.JobID != nil && *n.JobID == jobID {
			out = append(out, n)
		}
	}
	return out
}

// Requester mirrors queue.Requester so the notification hub can enforce authorization without
// importing the queue scheduler.
type Requester struct {
	UserID  string
	IsAdmin bool
}

// NotifyRequest is the full notify input shape as it arrives from agents
// and the glue layer.
type NotifyRequest struct {
	SenderID          string
	TargetUser        string
	Message           string
	Type              voxmodels.NotificationType
	Priority          voxmodels.Priority
	JobID             *string
	SuppressDing      bool
	ResponseRequested bool
	Abstract          string
}

// Notify resolves the target, inserts a Notification row, emits
// notification_queue_update to the recipient, and returns the new id.
// It is the common-case shorthand over NotifyRequest.
func (h *Hub) Notify(ctx context.Context, senderID, recipientID, message string, typ voxmodels.NotificationType, priority voxmodels.Priority, jobID *string) (string, error) {
	return h.NotifyFull(ctx, NotifyRequest{
		SenderID:   senderID,
		TargetUser: recipientID,
		Message:    message,
		Type:       typ,
		Priority:   priority,
		JobID:      jobID,
	})
}

// NotifyFull persists and emits a notification carrying the full request
// shape (abstract, response flag). When JobID is set the recipient must be
// the job's owner; the check is skipped when no job lookup is wired.
func (h *Hub) NotifyFull(ctx context.Context, req NotifyRequest) (string, error) {
	if req.TargetUser == "" {
		return "", voxerr.New(voxerr.Validation, "recipient_id required")
	}
	if req.JobID != nil && h.jobs != nil {
		job, _, ok := h.jobs.JobByID(*req.JobID)
		if ok && job.UserID != req.TargetUser {
			return "", voxerr.New(voxerr.Authorization, "recipient does not own job "+*req.JobID)
		}
	}

	n := &voxmodels.Notification{
		ID:              uuid.NewString(),
		SenderID:        req.SenderID,
		RecipientID:     req.TargetUser,
		JobID:           req.JobID,
		Type:            req.Type,
		Priority:        req.Priority,
		Message:         req.Message,
		Abstract:        req.Abstract,
		ResponseRequest: req.ResponseRequested,
		CreatedAt:       time.Now(),
	}
	if err := h.store.Insert(n); err != nil {
		return "", fmt.Errorf("notify: persist notification: %w", err)
	}

	h.EmitToUser(ctx, req.TargetUser, "notification_queue_update", n)
	return n.ID, nil
}

// Interactions looks the job up in the terminal queues (done or dead),
// verifies the requester owns the job (or is admin), and returns its
// metadata plus every matching notification, newest-first. A job still in
// todo or running is reported as not found.
func (h *Hub) Interactions(requester Requester, jobID string) (voxmodels.Metadata, []voxmodels.Notification, error) {
	job, queue, ok := h.jobs.JobByID(jobID)
	if !ok || (queue != voxmodels.QueueDone && queue != voxmodels.QueueDead) {
		return voxmodels.Metadata{}, nil, voxerr.New(voxerr.NotFound, "job not found")
	}
	if !requester.IsAdmin && requester.UserID != job.UserID {
		return voxmodels.Metadata{}, nil, voxerr.New(voxerr.Authorization, "not the job owner")
	}

	rows := h.store.ByJobID(jobID)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return job.ToMetadata(), rows, nil
}
