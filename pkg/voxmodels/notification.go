package voxmodels

import "time"

// NotificationType classifies a Notification.
type NotificationType string

const (
	NotifyTask          NotificationType = "task"
	NotifyProgress      NotificationType = "progress"
	NotifyAlert         NotificationType = "alert"
	NotifyCustom        NotificationType = "custom"
	NotifyUserInitiated NotificationType = "user_initiated_message"
)

// Priority controls TTS behavior downstream: urgent/high are
// spoken, low/medium are a silent ding depending on policy. This package
// only carries the tag; speech synthesis is out of scope.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is a persisted, user-visible event.
type Notification struct {
	ID              string           `json:"id"`
	SenderID        string           `json:"sender_id"`
	RecipientID     string           `json:"recipient_id"`
	JobID           *string          `json:"job_id,omitempty"`
	Type            NotificationType `json:"type"`
	Priority        Priority         `json:"priority"`
	Message         string           `json:"message"`
	Abstract        string           `json:"abstract,omitempty"`
	ResponseRequest bool             `json:"response_requested"`
	ResponseValue   *string          `json:"response_value,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// ConnectionKind distinguishes the two WebSocket session flavors.
type ConnectionKind string

const (
	ConnAudio ConnectionKind = "audio"
	ConnQueue ConnectionKind = "queue"
)

// Session is a live or lazily-authenticated WebSocket connection.
type Session struct {
	SessionID        string         `json:"session_id"`
	UserID           *string        `json:"user_id,omitempty"`
	SubscribedEvents []string       `json:"subscribed_events"`
	Kind             ConnectionKind `json:"connection_kind"`
}

// SubscribesTo reports whether the session's subscription set includes the
// given event tag, honoring the "*" wildcard.
func (s *Session) SubscribesTo(event string) bool {
	for _, e := range s.SubscribedEvents {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}
