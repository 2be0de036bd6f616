package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nodalflow/voxplane/internal/textnorm"
	"github.com/nodalflow/voxplane/internal/voxerr"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// Filter is the user-scoping rule applied to a queue listing.
type Filter string

const (
	FilterSelf         Filter = "self"
	FilterSpecificUser Filter = "specific_user"
	FilterAll          Filter = "all"
)

// Requester identifies the caller of a read/write operation so the
// scheduler can enforce "regular user forced to self, admin may request
// any filter".
type Requester struct {
	UserID  string
	IsAdmin bool
}

// Embedder is the embedding service's contract as consumed by the scheduler.
type Embedder interface {
	Embed(ctx context.Context, text string, normalizeForCache bool) ([]float32, error)
}

// SnapshotStore is the snapshot store's contract as consumed by the scheduler.
type SnapshotStore interface {
	BestMatch(ctx context.Context, question string, threshold float64) (*voxmodels.SolutionSnapshot, float64, bool, error)
	Insert(ctx context.Context, snap *voxmodels.SolutionSnapshot) error
	UpdateRuntimeStats(ctx context.Context, idHash string, elapsedMs int64) error
}

// AgentRunner is the agent core's contract as consumed by the scheduler.
// DoAll mutates job in place (Answer, AnswerConversational, Code, Error)
// and returns a *voxerr.Error on failure, CodeGenerationFailed included.
type AgentRunner interface {
	DoAll(ctx context.Context, job *voxmodels.Job) error
	// Formatter renders answer_conversational for a cache-hit job without
	// running prompt/code.
	Formatter(ctx context.Context, routingCommand, question, rawAnswer string) (string, error)
}

// Notifier is the hub's contract as consumed by the scheduler.
type Notifier interface {
	EmitToUser(ctx context.Context, userID, event string, payload any)
	Notify(ctx context.Context, senderID, recipientID, message string, typ voxmodels.NotificationType, priority voxmodels.Priority, jobID *string) (string, error)
}

// IOLogger is the embedding service's interaction-log contract.
type IOLogger interface {
	Append(ctx context.Context, row voxmodels.IOLogRow) error
}

// Clock is injected so tests can control time deterministically.
type Clock func() time.Time

// Scheduler owns the full life of every job.
type Scheduler struct {
	cfg SchedulerConfig

	todo    *fifo
	running *fifo
	done    *fifo
	dead    *fifo

	// userIndex maps user_id -> set(id_hash), kept in sync with every
	// queue mutation, guarded by its own lock distinct from each fifo's.
	userIndexMu sync.Mutex
	userIndex   map[string]map[string]struct{}

	embedder  Embedder
	snapshots SnapshotStore
	agents    AgentRunner
	notifier  Notifier
	iolog     IOLogger
	archive   Archive
	now       Clock
}

// Option configures optional Scheduler collaborators.
type Option func(*Scheduler)

// WithArchive records every terminal job in a durable archive.
func WithArchive(a Archive) Option {
	return func(s *Scheduler) { s.archive = a }
}

// SchedulerConfig carries the enqueue/worker tunables.
type SchedulerConfig struct {
	SimilarityThreshold     float64
	CacheableRoutingCommand func(routingCommand string) bool
	WorkerPollInterval      time.Duration
	// ResolveRoutingCommand maps a normalized question to the agent family
	// that should handle it when no cache hit is found. The glue layer
	// (or a router component) supplies this; the scheduler itself does not
	// decide routing policy.
	ResolveRoutingCommand func(ctx context.Context, question string) (string, error)
}

// New constructs a Scheduler. now defaults to time.Now when nil.
func New(cfg SchedulerConfig, embedder Embedder, snapshots SnapshotStore, agents AgentRunner, notifier Notifier, iolog IOLogger, now Clock, opts ...Option) *Scheduler {
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		cfg:       cfg,
		todo:      newFifo(),
		running:   newFifo(),
		done:      newFifo(),
		dead:      newFifo(),
		userIndex: make(map[string]map[string]struct{}),
		embedder:  embedder,
		snapshots: snapshots,
		agents:    agents,
		notifier:  notifier,
		iolog:     iolog,
		now:       now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueRequest is the input to Enqueue.
type EnqueueRequest struct {
	Question    string
	WebsocketID string
	UserID      string
	UserEmail   string
}

// EnqueueResult is the { id_hash, status: "queued" } response shape.
type EnqueueResult struct {
	IDHash string `json:"id_hash"`
	Status string `json:"status"`
}

// Enqueue canonicalizes the question, asks the snapshot store whether a
// prior solution already answers it, and appends either a cache-hit or a
// fresh-agentic job to todo. Downstream snapshot/embedding failures
// degrade to a fresh-agentic job rather than dropping the enqueue.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if req.Question == "" || req.UserID == "" {
		return nil, voxerr.New(voxerr.Validation, "question and user_id are required")
	}

	canonical := textnorm.Canonical(req.Question)
	createdAt := s.now()

	job := &voxmodels.Job{
		IDHash:            voxmodels.GenerateIDHash(createdAt),
		Tag:               generateTwoWordTag(createdAt),
		UserID:            req.UserID,
		UserEmail:         req.UserEmail,
		Question:          req.Question,
		LastQuestionAsked: canonical,
		Status:            voxmodels.JobPending,
		CreatedAt:         createdAt,
	}
	if req.WebsocketID != "" {
		job.SessionID = &req.WebsocketID
	}

	if match, score, ok := s.tryCacheHit(ctx, canonical); ok {
		job.IsCacheHit = true
		job.RoutingCommand = match.RoutingCommand
		job.Answer = match.Answer
		job.AnswerConversational = match.AnswerConversational
		job.JobType = match.RoutingCommand
		job.Artifacts = map[string]any{"matched_snapshot": match.IDHash, "similarity": score}
	} else {
		routingCommand := job.RoutingCommand
		if s.cfg.ResolveRoutingCommand != nil {
			cmd, err := s.cfg.ResolveRoutingCommand(ctx, canonical)
			if err == nil {
				routingCommand = cmd
			}
		}
		job.RoutingCommand = routingCommand
		job.JobType = routingCommand
	}

	s.todo.pushBack(job)
	s.indexForUser(job.UserID, job.IDHash)
	if job.IsCacheHit {
		cacheHits.Inc()
	}
	s.observeDepths()
	if s.notifier != nil {
		s.notifier.EmitToUser(ctx, job.UserID, "todo_update", job.ToMetadata())
	}

	return &EnqueueResult{IDHash: job.IDHash, Status: "queued"}, nil
}

// tryCacheHit asks the snapshot store for the best match above the
// acceptance threshold, restricted to cacheable routing-command families.
// Any snapshot or embedding error here is swallowed — degrade to
// fresh-agentic, never fail the enqueue.
func (s *Scheduler) tryCacheHit(ctx context.Context, canonical string) (*voxmodels.SolutionSnapshot, float64, bool) {
	if s.snapshots == nil {
		return nil, 0, false
	}
	match, score, ok, err := s.snapshots.BestMatch(ctx, canonical, s.cfg.SimilarityThreshold)
	if err != nil || !ok {
		return nil, 0, false
	}
	if s.cfg.CacheableRoutingCommand != nil && !s.cfg.CacheableRoutingCommand(match.RoutingCommand) {
		return nil, 0, false
	}
	return match, score, true
}

func (s *Scheduler) indexForUser(userID, idHash string) {
	s.userIndexMu.Lock()
	defer s.userIndexMu.Unlock()
	set, ok := s.userIndex[userID]
	if !ok {
		set = make(map[string]struct{})
		s.userIndex[userID] = set
	}
	set[idHash] = struct{}{}
}

// RunOnce drains at most one job from todo into running and executes it to
// a terminal state, honoring focus mode. It is the unit the worker loop calls on every tick; tests
// call it directly for determinism.
func (s *Scheduler) RunOnce(ctx context.Context) (ran bool, err error) {
	if !s.todo.isAcceptingJobs() {
		return false, nil
	}
	job := s.todo.deleteByIDHash(s.peekTodoID())
	if job == nil {
		return false, nil
	}

	startedAt := s.now()
	job.StartedAt = &startedAt
	job.Status = voxmodels.JobRunning
	s.running.pushBack(job)
	if s.notifier != nil {
		s.notifier.EmitToUser(ctx, job.UserID, "run_update", job.ToMetadata())
	}

	s.execute(ctx, job)
	return true, nil
}

// peekTodoID returns the head job's id_hash without removing it, or "" if
// todo is empty. RunOnce then removes it by id_hash so the head-then-delete
// sequence is still a single logical "pop" at the FIFO level.
func (s *Scheduler) peekTodoID() string {
	job := s.todo.head()
	if job == nil {
		return ""
	}
	return job.IDHash
}

func (s *Scheduler) execute(ctx context.Context, job *voxmodels.Job) {
	var execErr error
	start := time.Now()

	if job.IsCacheHit {
		if s.agents != nil {
			conv, ferr := s.agents.Formatter(ctx, job.RoutingCommand, job.Question, job.Answer)
			if ferr == nil {
				job.AnswerConversational = conv
			}
		}
		if s.snapshots != nil {
			if snapID, ok := job.Artifacts["matched_snapshot"].(string); ok {
				_ = s.snapshots.UpdateRuntimeStats(ctx, snapID, time.Since(start).Milliseconds())
			}
		}
	} else {
		execErr = s.agents.DoAll(ctx, job)
	}

	s.running.deleteByIDHash(job.IDHash)
	completedAt := s.now()
	job.CompletedAt = &completedAt

	switch {
	case execErr == nil:
		job.Status = voxmodels.JobDoneOK
		s.done.pushBack(job)
		if !job.IsCacheHit && s.snapshots != nil && s.isCacheable(job.RoutingCommand) {
			snap := snapshotFromJob(job, s.now())
			_ = s.snapshots.Insert(ctx, snap)
		}
		if !job.IsCacheHit && s.iolog != nil {
			row := voxmodels.NewIOLogRow(s.now(), fmt.Sprintf("agent router go to %s", job.RoutingCommand), job.Question, job.Answer, job.AnswerConversational)
			_ = s.iolog.Append(ctx, row)
		}
		if s.notifier != nil {
			s.notifier.EmitToUser(ctx, job.UserID, "done_update", job.ToMetadata())
		}
	case voxerr.KindOf(execErr) == voxerr.CodeGenerationFailed:
		job.Status = voxmodels.JobDead
		job.Error = execErr.Error()
		s.dead.pushBack(job)
		if s.notifier != nil {
			s.notifier.EmitToUser(ctx, job.UserID, "dead_update", job.ToMetadata())
		}
	default:
		job.Status = voxmodels.JobDoneError
		job.Error = execErr.Error()
		s.done.pushBack(job)
		if s.notifier != nil {
			s.notifier.EmitToUser(ctx, job.UserID, "done_update", job.ToMetadata())
		}
	}

	jobsCompleted.WithLabelValues(string(job.Status)).Inc()
	executionSeconds.Observe(time.Since(start).Seconds())
	s.observeDepths()

	if s.archive != nil {
		_ = s.archive.Record(ctx, job)
	}
}

func (s *Scheduler) isCacheable(routingCommand string) bool {
	if s.cfg.CacheableRoutingCommand == nil {
		return false
	}
	return s.cfg.CacheableRoutingCommand(routingCommand)
}

// Run drives RunOnce on a ticker until ctx is cancelled — the single
// logical worker loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WorkerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// GetQueue returns one queue's jobs as sorted metadata projections,
// never raw jobs. A non-admin requester is always scoped to self.
func (s *Scheduler) GetQueue(name voxmodels.QueueName, requester Requester, filter Filter, specificUser string) ([]voxmodels.Metadata, error) {
	if !requester.IsAdmin {
		filter = FilterSelf
	}

	q, err := s.queueByName(name)
	if err != nil {
		return nil, err
	}

	var jobs []*voxmodels.Job
	switch filter {
	case FilterSelf:
		jobs = q.jobsForUser(requester.UserID)
	case FilterSpecificUser:
		jobs = q.jobsForUser(specificUser)
	case FilterAll:
		jobs = q.allJobs()
	default:
		return nil, voxerr.New(voxerr.Validation, "unknown filter")
	}

	newestFirst := name != voxmodels.QueueRunning
	sort.SliceStable(jobs, func(i, j int) bool {
		if newestFirst {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	out := make([]voxmodels.Metadata, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ToMetadata())
	}
	return out, nil
}

func (s *Scheduler) queueByName(name voxmodels.QueueName) (*fifo, error) {
	switch name {
	case voxmodels.QueueTodo:
		return s.todo, nil
	case voxmodels.QueueRunning:
		return s.running, nil
	case voxmodels.QueueDone:
		return s.done, nil
	case voxmodels.QueueDead:
		return s.dead, nil
	default:
		return nil, voxerr.New(voxerr.Validation, "unknown queue")
	}
}

// ResetResult reports how many jobs were cleared per queue.
type ResetResult struct {
	Todo    int `json:"todo"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Dead    int `json:"dead"`
}

// Reset clears all four queues. Authorization (admin-only) is enforced by
// the glue layer, not here.
func (s *Scheduler) Reset() ResetResult {
	result := ResetResult{
		Todo:    s.todo.clear(),
		Running: s.running.clear(),
		Done:    s.done.clear(),
		Dead:    s.dead.clear(),
	}
	s.userIndexMu.Lock()
	s.userIndex = make(map[string]map[string]struct{})
	s.userIndexMu.Unlock()
	return result
}

// PruneTerminal drops done/dead jobs that completed before the retention
// window, returning per-queue counts. The durable archive, when wired,
// keeps the full record; pruning only bounds in-memory growth.
func (s *Scheduler) PruneTerminal(retention time.Duration) (done, dead int) {
	cutoff := s.now().Add(-retention)
	return s.pruneQueue(s.done, cutoff), s.pruneQueue(s.dead, cutoff)
}

func (s *Scheduler) pruneQueue(q *fifo, cutoff time.Time) int {
	n := 0
	for _, job := range q.allJobs() {
		if job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if q.deleteByIDHash(job.IDHash) != nil {
			s.unindexForUser(job.UserID, job.IDHash)
			n++
		}
	}
	return n
}

func (s *Scheduler) unindexForUser(userID, idHash string) {
	s.userIndexMu.Lock()
	defer s.userIndexMu.Unlock()
	if set, ok := s.userIndex[userID]; ok {
		delete(set, idHash)
		if len(set) == 0 {
			delete(s.userIndex, userID)
		}
	}
}

// PushBlockingObject enters focus mode on the todo queue.
func (s *Scheduler) PushBlockingObject(obj any) { s.todo.pushBlockingObject(obj) }

// PopBlockingObject exits focus mode, returning the object that was
// blocking.
func (s *Scheduler) PopBlockingObject() any { return s.todo.popBlockingObject() }

// AcceptingJobs reports whether the worker loop will drain todo.
func (s *Scheduler) AcceptingJobs() bool { return s.todo.isAcceptingJobs() }

// DeliverMessage delivers a user-initiated message to a running job: it
// looks the job up in running, checks ownership, and asks the
// notification hub to persist and emit. The running agent is expected to
// poll the notification stream at its own checkpoints.
func (s *Scheduler) DeliverMessage(ctx context.Context, requester Requester, jobID, message string, priority voxmodels.Priority) (string, error) {
	job := s.running.getByIDHash(jobID)
	if job == nil {
		return "", voxerr.New(voxerr.NotFound, "job not found in running queue")
	}
	if !requester.IsAdmin && requester.UserID != job.UserID {
		return "", voxerr.New(voxerr.Authorization, "not the job owner")
	}
	if s.notifier == nil {
		return "", voxerr.New(voxerr.BackgroundFailure, "notifier not configured")
	}
	id, err := s.notifier.Notify(ctx, requester.UserID, job.UserID, message, voxmodels.NotifyUserInitiated, priority, &jobID)
	if err != nil {
		return "", err
	}
	s.notifier.EmitToUser(ctx, job.UserID, "notification_queue_update", map[string]any{
		"notification_id": id,
		"job_id":          jobID,
		"status":          "queued",
	})
	return id, nil
}

// JobByID looks a job up across all four queues, used by the
// get-job-interactions endpoint and by notification ownership checks.
func (s *Scheduler) JobByID(id string) (*voxmodels.Job, voxmodels.QueueName, bool) {
	if j := s.todo.getByIDHash(id); j != nil {
		return j, voxmodels.QueueTodo, true
	}
	if j := s.running.getByIDHash(id); j != nil {
		return j, voxmodels.QueueRunning, true
	}
	if j := s.done.getByIDHash(id); j != nil {
		return j, voxmodels.QueueDone, true
	}
	if j := s.dead.getByIDHash(id); j != nil {
		return j, voxmodels.QueueDead, true
	}
	return nil, "", false
}

func snapshotFromJob(job *voxmodels.Job, now time.Time) *voxmodels.SolutionSnapshot {
	lines := make([]voxmodels.CodeLine, 0, len(job.Code))
	for _, l := range job.Code {
		lines = append(lines, voxmodels.CodeLine{Text: l, Language: "python"})
	}
	return &voxmodels.SolutionSnapshot{
		IDHash:               voxmodels.GenerateIDHash(now),
		Question:             job.LastQuestionAsked,
		Answer:               job.Answer,
		AnswerConversational: job.AnswerConversational,
		RoutingCommand:       job.RoutingCommand,
		CodeExample:          job.CodeExample,
		CodeReturns:          string(job.CodeReturns),
		Code:                 lines,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
