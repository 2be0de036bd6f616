package notify

import (
	"context"
	"testing"
	"time"

	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

func TestNotifyRequiresRecipient(t *testing.T) {
	hub := New(NewRegistry(), NewMemNotificationStore(), stubJobLookup{})
	_, err := hub.Notify(context.Background(), "sender", "", "hi", voxmodels.NotifyTask, voxmodels.PriorityMedium, nil)
	if voxerr.KindOf(err) != voxerr.Validation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNotifyRejectsWhenJobOwnedByAnotherUser(t *testing.T) {
	jobID := "job-1"
	job := &voxmodels.Job{IDHash: jobID, UserID: "owner"}
	hub := New(NewRegistry(), NewMemNotificationStore(), stubJobLookup{job: job, queue: voxmodels.QueueDone, ok: true})

	_, err := hub.Notify(context.Background(), "sender", "not-owner", "hi", voxmodels.NotifyTask, voxmodels.PriorityMedium, &jobID)
	if voxerr.KindOf(err) != voxerr.Authorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestNotifyPersistsAndEmits(t *testing.T) {
	registry := NewRegistry()
	user := "owner"
	if _, err := registry.Register("brave otter", &user, voxmodels.ConnQueue, []string{"*"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	c := &fakeConn{}
	registry.Bind("brave otter", c)

	store := NewMemNotificationStore()
	hub := New(registry, store, stubJobLookup{})

	id, err := hub.Notify(context.Background(), "sender", user, "hello", voxmodels.NotifyTask, voxmodels.PriorityMedium, nil)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty notification id")
	}
	if len(c.sent) != 1 || c.sent[0] != "notification_queue_update" {
		t.Fatalf("expected notification_queue_update emitted, got %v", c.sent)
	}
}

func TestInteractionsRequiresOwnershipOrAdmin(t *testing.T) {
	jobID := "job-2"
	job := &voxmodels.Job{IDHash: jobID, UserID: "owner"}
	store := NewMemNotificationStore()
	hub := New(NewRegistry(), store, stubJobLookup{job: job, queue: voxmodels.QueueDone, ok: true})

	_, _, err := hub.Interactions(Requester{UserID: "stranger"}, jobID)
	if voxerr.KindOf(err) != voxerr.Authorization {
		t.Fatalf("expected authorization error, got %v", err)
	}

	_, rows, err := hub.Interactions(Requester{UserID: "owner"}, jobID)
	if err != nil {
		t.Fatalf("Interactions as owner: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected no rows yet, got %v", rows)
	}

	_, _, err = hub.Interactions(Requester{UserID: "stranger", IsAdmin: true}, jobID)
	if err != nil {
		t.Fatalf("Interactions as admin: %v", err)
	}
}

func TestInteractionsSortsNewestFirst(t *testing.T) {
	jobID := "job-3"
	job := &voxmodels.Job{IDHash: jobID, UserID: "owner"}
	store := NewMemNotificationStore()

	older := jobID
	newer := jobID
	_ = store.Insert(&voxmodels.Notification{ID: "n1", RecipientID: "owner", JobID: &older, CreatedAt: time.Now().Add(-time.Hour)})
	_ = store.Insert(&voxmodels.Notification{ID: "n2", RecipientID: "owner", JobID: &newer, CreatedAt: time.Now()})

	hub := New(NewRegistry(), store, stubJobLookup{job: job, queue: voxmodels.QueueDone, ok: true})
	_, rows, err := hub.Interactions(Requester{UserID: "owner"}, jobID)
	if err != nil {
		t.Fatalf("Interactions: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "n2" {
		t.Fatalf("expected newest-first ordering, got %v", rows)
	}
}

func TestInteractionsUnknownJob(t *testing.T) {
	hub := New(NewRegistry(), NewMemNotificationStore(), stubJobLookup{ok: false})
	_, _, err := hub.Interactions(Requester{UserID: "owner"}, "missing")
	if voxerr.KindOf(err) != voxerr.NotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
