package notify

import (
	"testing"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

type fakeConn struct {
	sent   []string
	closed bool
	fail   bool
}

func (f *fakeConn) send(event string, payload any) bool {
	if f.closed || f.fail {
		return false
	}
	f.sent = append(f.sent, event)
	return true
}

func (f *fakeConn) close() { f.closed = true }

func TestValidateSessionID(t *testing.T) {
	cases := map[string]bool{
		"brave otter":  true,
		"quiet river":  true,
		"BraveOtter":   false,
		"brave":        false,
		"brave otter ": false,
		"":             false,
	}
	for id, want := range cases {
		if got := ValidateSessionID(id); got != want {
			t.Errorf("ValidateSessionID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestRegisterRejectsInvalidSessionID(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("not-valid", nil, voxmodels.ConnAudio, nil); err == nil {
		t.Fatal("expected error for invalid session id")
	}
}

func TestRegisterBindAndFanOut(t *testing.T) {
	r := NewRegistry()
	user := "user-1"
	sess, err := r.Register("brave otter", &user, voxmodels.ConnQueue, []string{"todo_update"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.UserID == nil || *sess.UserID != user {
		t.Fatal("expected session bound to user")
	}

	c := &fakeConn{}
	r.Bind("brave otter", c)

	if !r.hasSubscriber(user, "todo_update") {
		t.Fatal("expected subscriber for todo_update")
	}
	if r.hasSubscriber(user, "run_update") {
		t.Fatal("did not expect subscriber for run_update")
	}
}

func TestAuthenticateLazilyIndexesByUser(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("quiet river", nil, voxmodels.ConnQueue, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Authenticate("quiet river", "user-2"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !r.hasSubscriber("user-2", "anything") {
		t.Fatal("expected wildcard subscription after authenticate")
	}
}

func TestUpdateSubscriptionsOps(t *testing.T) {
	r := NewRegistry()
	user := "user-3"
	if _, err := r.Register("silent fox", &user, voxmodels.ConnQueue, []string{"a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	events, err := r.UpdateSubscriptions("silent fox", "add", []string{"b", "c"})
	if err != nil {
		t.Fatalf("UpdateSubscriptions add: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after add, got %v", events)
	}

	events, err = r.UpdateSubscriptions("silent fox", "remove", []string{"a"})
	if err != nil {
		t.Fatalf("UpdateSubscriptions remove: %v", err)
	}
	for _, e := range events {
		if e == "a" {
			t.Fatal("expected 'a' removed")
		}
	}

	if _, err := r.UpdateSubscriptions("silent fox", "bogus", nil); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestUnregisterClearsUserIndex(t *testing.T) {
	r := NewRegistry()
	user := "user-4"
	if _, err := r.Register("calm wolf", &user, voxmodels.ConnAudio, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unregister("calm wolf")
	if r.hasSubscriber(user, "*") {
		t.Fatal("expected no subscribers after unregister")
	}
}
