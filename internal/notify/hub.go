package notify

import (
	"context"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// Hub is the notification fabric's public surface for the rest of the
// core.
type Hub struct {
	registry *Registry
	store    NotificationStore
	jobs     JobLookup
}

// NotificationStore persists Notification rows. MemNotificationStore is the
// default in-process implementation; a pgx/v5-backed store is the durable
// alternative.
type NotificationStore interface {
	Insert(n *voxmodels.Notification) error
	ByJobID(jobID string) []voxmodels.Notification
	// Clear drops every row and returns how many were dropped, for the
	// reset-queues operation.
	Clear() int
}

// ClearNotifications empties the notification queue, returning the count
// cleared.
func (h *Hub) ClearNotifications() int { return h.store.Clear() }

// JobLookup is the narrow slice of the queue scheduler the hub needs for
// the interactions query: locating a job's owner and confirming it has
// reached a terminal state. queue.Scheduler.JobByID satisfies this.
type JobLookup interface {
	JobByID(id string) (job *voxmodels.Job, queue voxmodels.QueueName, ok bool)
}

// New constructs a Hub over a session registry, notification store, and
// job lookup.
func New(registry *Registry, store NotificationStore, jobs JobLookup) *Hub {
	return &Hub{registry: registry, store: store, jobs: jobs}
}

// Registry exposes the underlying session registry so the transport layer
// can register/bind/authenticate sessions.
func (h *Hub) Registry() *Registry { return h.registry }

// EmitToUser sends payload to every connected session owned by userID
// whose subscriptions match event (exact
// tag or wildcard). Delivery is best-effort per session — a failed send
// closes that session but does not affect others.
func (h *Hub) EmitToUser(ctx context.Context, userID, event string, payload any) {
	for _, e := range h.registry.sessionsForUser(userID) {
		if e.conn == nil || !e.session.SubscribesTo(event) {
			continue
		}
		if !e.conn.send(event, payload) {
			e.conn.close()
		}
	}
}
