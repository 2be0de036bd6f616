// Package voxmodels holds the wire and domain types shared across the job
// queue, agent execution, solution snapshot, embedding, and notification
// packages. Keeping them in one package avoids import cycles between those
// packages while each owns the operations over its own types.
package voxmodels

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobDoneOK    JobStatus = "done_ok"
	JobDoneError JobStatus = "done_error"
	JobDead      JobStatus = "dead"
)

// QueueName identifies one of the four job queues.
type QueueName string

const (
	QueueTodo    QueueName = "todo"
	QueueRunning QueueName = "running"
	QueueDone    QueueName = "done"
	QueueDead    QueueName = "dead"
)

// ParseQueueName validates a queue name from the HTTP surface.
func ParseQueueName(s string) (QueueName, bool) {
	switch QueueName(s) {
	case QueueTodo, QueueRunning, QueueDone, QueueDead:
		return QueueName(s), true
	default:
		return "", false
	}
}

// CodeReturns tags the shape of a code-producing agent's return value.
type CodeReturns string

const (
	ReturnsScalar CodeReturns = "scalar"
	ReturnsText   CodeReturns = "text"
	ReturnsTable  CodeReturns = "dataframe"
)

// Job is the unit of work flowing through the four queues.
type Job struct {
	IDHash string `json:"id_hash"`
	Tag    string `json:"tag"` // human-readable two-word tag

	UserID    string  `json:"user_id"`
	UserEmail string  `json:"user_email"`
	SessionID *string `json:"session_id,omitempty"`

	Question          string  `json:"question"`
	LastQuestionAsked string  `json:"last_question_asked"`
	QuestionGist      *string `json:"question_gist,omitempty"`
	RoutingCommand    string  `json:"routing_command"`

	Answer               string      `json:"answer,omitempty"`
	AnswerConversational string      `json:"answer_conversational,omitempty"`
	Code                 []string    `json:"code,omitempty"`
	CodeExample          string      `json:"code_example,omitempty"`
	CodeReturns          CodeReturns `json:"code_returns,omitempty"`
	Error                string      `json:"error,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	IsCacheHit bool   `json:"is_cache_hit"`
	JobType    string `json:"job_type"`

	Artifacts   map[string]any `json:"artifacts,omitempty"`
	CostSummary *CostSummary   `json:"cost_summary,omitempty"`

	// Prompt is the fully rendered prompt sent to the LLM, kept for
	// auditability.
	Prompt string `json:"prompt,omitempty"`
}

// CostSummary is the aggregate cost/time accounting attached to agentic jobs.
type CostSummary struct {
	TotalCostUSD float64       `json:"total_cost_usd"`
	TotalTokens  int64         `json:"total_tokens"`
	WallClock    time.Duration `json:"wall_clock"`
}

// Metadata is the projection returned by queue listings, never the raw
// Job.
type Metadata struct {
	IDHash      string     `json:"id_hash"`
	Tag         string     `json:"tag"`
	UserID      string     `json:"user_id"`
	Question    string     `json:"question"`
	RoutingCmd  string     `json:"routing_command"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	IsCacheHit  bool       `json:"is_cache_hit"`
	JobType     string     `json:"job_type"`
}

func (j *Job) ToMetadata() Metadata {
	return Metadata{
		IDHash:      j.IDHash,
		Tag:         j.Tag,
		UserID:      j.UserID,
		Question:    j.Question,
		RoutingCmd:  j.RoutingCommand,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		IsCacheHit:  j.IsCacheHit,
		JobType:     j.JobType,
	}
}

// GenerateIDHash hashes a microsecond-precision timestamp. Microsecond
// precision alone keeps ids unique across enqueues.
func GenerateIDHash(runAt time.Time) string {
	sum := sha256.Sum256([]byte(runAt.Format("2006-01-02T15:04:05.000000")))
	return hex.EncodeToString(sum[:])
}

// Validate reports the first invariant violation found, or nil.
func (j *Job) Validate() error {
	if j.IDHash == "" {
		return fmt.Errorf("job: id_hash required")
	}
	if j.StartedAt != nil && j.StartedAt.Before(j.CreatedAt) {
		return fmt.Errorf("job %s: started_at before created_at", j.IDHash)
	}
	if j.CompletedAt != nil && j.StartedAt != nil && j.CompletedAt.Before(*j.StartedAt) {
		return fmt.Errorf("job %s: completed_at before started_at", j.IDHash)
	}
	if j.IsCacheHit && len(j.Code) != 0 {
		return fmt.Errorf("job %s: cache hit must not carry generated code", j.IDHash)
	}
	return nil
}
