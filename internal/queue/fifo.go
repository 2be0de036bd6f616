// Package queue implements the four-stage job lifecycle scheduler: jobs
// enter todo, advance through running, and land in done or dead. Each
// queue pairs a FIFO list with an id_hash index under a single lock.
package queue

import (
	"container/list"
	"sync"

	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

// fifo is a FIFO list of *voxmodels.Job with O(1) lookup by id_hash. Each
// instance owns exactly one sync.Mutex guarding its list+index pair; there
// is no lock shared across queues.
type fifo struct {
	mu      sync.Mutex
	order   *list.List
	index   map[string]*list.Element
	blocker any // the "focus mode" blocking object, nil when not set
}

func newFifo() *fifo {
	return &fifo{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// pushBack appends to the tail (newest).
func (f *fifo) pushBack(job *voxmodels.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el := f.order.PushBack(job)
	f.index[job.IDHash] = el
}

// popFront removes and returns the head (oldest), or nil if empty.
func (f *fifo) popFront() *voxmodels.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	el := f.order.Front()
	if el == nil {
		return nil
	}
	f.order.Remove(el)
	job := el.Value.(*voxmodels.Job)
	delete(f.index, job.IDHash)
	return job
}

// head peeks without removing; caller must hold no lock (acquires
// its own).
func (f *fifo) head() *voxmodels.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	el := f.order.Front()
	if el == nil {
		return nil
	}
	return el.Value.(*voxmodels.Job)
}

func (f *fifo) getByIDHash(id string) *voxmodels.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.index[id]
	if !ok {
		return nil
	}
	return el.Value.(*voxmodels.Job)
}

// deleteByIDHash removes a job from this queue if present, returning it.
func (f *fifo) deleteByIDHash(id string) *voxmodels.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.index[id]
	if !ok {
		return nil
	}
	f.order.Remove(el)
	delete(f.index, id)
	return el.Value.(*voxmodels.Job)
}

func (f *fifo) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order.Len()
}

func (f *fifo) clear() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.order.Len()
	f.order.Init()
	f.index = make(map[string]*list.Element)
	return n
}

// jobsForUser returns every job owned by userID, in current queue order.
func (f *fifo) jobsForUser(userID string) []*voxmodels.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*voxmodels.Job
	for el := f.order.Front(); el != nil; el = el.Next() {
		job := el.Value.(*voxmodels.Job)
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	return out
}

// allJobs returns every job, in current queue order.
func (f *fifo) allJobs() []*voxmodels.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*voxmodels.Job, 0, f.order.Len())
	for el := f.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*voxmodels.Job))
	}
	return out
}

// pushBlockingObject enters focus mode.
func (f *fifo) pushBlockingObject(obj any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocker = obj
}

// popBlockingObject clears focus mode and returns whatever was blocking.
func (f *fifo) popBlockingObject() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj := f.blocker
	f.blocker = nil
	return obj
}

func (f *fifo) isAcceptingJobs() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocker == nil
}
