// Package notify implements per-user WebSocket fan-out, session
// registration, and persisted notifications that correlate with jobs.
// Every connection carries a bounded send buffer; overflow closes that
// session without affecting the user's other sessions.
package notify

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// SessionIDPattern is the required session_id shape: two lowercase words
// separated by a single space.
var SessionIDPattern = regexp.MustCompile(`^[a-z]+\s[a-z]+$`)

// ValidateSessionID reports whether id matches SessionIDPattern.
func ValidateSessionID(id string) bool {
	return SessionIDPattern.MatchString(id)
}

// conn is the registry-facing half of a live connection: send delivers a
// pre-encoded event best-effort, close tears down the
// underlying transport. ws.go's wsConn implements this.
type conn interface {
	send(event string, payload any) bool
	close()
}

// entry is one registered session plus its live connection, if any. A
// session can be registered (by a prior authenticated HTTP call) before its
// WebSocket connects.
type entry struct {
	session *voxmodels.Session
	conn    conn
}

// Registry owns every session, indexed by session_id and by user_id for
// fan-out. A single
// sync.RWMutex guards both indexes — short critical sections on add/remove,
// shared reads under RLock.
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]*entry
	byUser    map[string]map[string]struct{} // user_id -> set(session_id)
}

// NewRegistry builds an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]*entry),
		byUser:    make(map[string]map[string]struct{}),
	}
}

// Register validates and records a new session. userID may be empty when
// not yet authenticated (audio sessions, or queue sessions pending
// auth_request).
func (r *Registry) Register(sessionID string, userID *string, kind voxmodels.ConnectionKind, subscribedEvents []string) (*voxmodels.Session, error) {
	if !ValidateSessionID(sessionID) {
		return nil, voxerr.New(voxerr.Validation, fmt.Sprintf("invalid session_id %q", sessionID))
	}
	if len(subscribedEvents) == 0 {
		subscribedEvents = []string{"*"}
	}

	sess := &voxmodels.Session{
		SessionID:        sessionID,
		UserID:           userID,
		SubscribedEvents: subscribedEvents,
		Kind:             kind,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySession[sessionID] = &entry{session: sess}
	if userID != nil {
		r.indexForUserLocked(*userID, sessionID)
	}
	return sess, nil
}

// Bind attaches a live connection to an already-registered (or
// freshly-registering) session, completing the WebSocket handshake.
func (r *Registry) Bind(sessionID string, c conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	e.conn = c
}

// Authenticate associates userID with an already-registered session, the lazy-binding path for queue sessions.
func (r *Registry) Authenticate(sessionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return voxerr.New(voxerr.NotFound, "session not registered")
	}
	e.session.UserID = &userID
	r.indexForUserLocked(userID, sessionID)
	return nil
}

func (r *Registry) indexForUserLocked(userID, sessionID string) {
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[sessionID] = struct{}{}
}

// UpdateSubscriptions applies a replace/add/remove operation against the
// session's subscription set.
func (r *Registry) UpdateSubscriptions(sessionID string, op string, events []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return nil, voxerr.New(voxerr.NotFound, "session not registered")
	}

	switch op {
	case "replace":
		e.session.SubscribedEvents = events
	case "add":
		e.session.SubscribedEvents = appendUnique(e.session.SubscribedEvents, events)
	case "remove":
		e.session.SubscribedEvents = removeAll(e.session.SubscribedEvents, events)
	default:
		return nil, voxerr.New(voxerr.Validation, "unknown subscription op "+op)
	}
	return e.session.SubscribedEvents, nil
}

func appendUnique(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e] = struct{}{}
	}
	out := append([]string{}, existing...)
	for _, a := range add {
		if _, ok := seen[a]; !ok {
			out = append(out, a)
			seen[a] = struct{}{}
		}
	}
	return out
}

func removeAll(existing, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[r] = struct{}{}
	}
	out := make([]string, 0, len(existing))
	for _, e := range existing {
		if _, ok := drop[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// Unregister removes a session on disconnect.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	if e.session.UserID != nil {
		if set, ok := r.byUser[*e.session.UserID]; ok {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(r.byUser, *e.session.UserID)
			}
		}
	}
	delete(r.bySession, sessionID)
}

// sessionsForUser returns a snapshot of every session entry owned by
// userID, taken under a read lock.
func (r *Registry) sessionsForUser(userID string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*entry, 0, len(ids))
	for id := range ids {
		if e, ok := r.bySession[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// hasSubscriber reports whether any registered session belonging to userID
// subscribes to event, whether or not a connection is bound to it. Events with no matching subscriber are silently
// dropped; tests assert on this.
func (r *Registry) hasSubscriber(userID, event string) bool {
	for _, e := range r.sessionsForUser(userID) {
		if e.session.SubscribesTo(event) {
			return true
		}
	}
	return false
}
