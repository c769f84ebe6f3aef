package enginetest

import (
	"fmt"
	"sync"
	"time"
)

// Task statuses and the wire shapes for /tasks responses.
const (
	statusEnqueued   = "enqueued"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
)

type wireError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Link    string `json:"link,omitempty"`
}

type wireTask struct {
	UID        int64      `json:"uid"`
	IndexUID   string     `json:"indexUid"`
	Status     string     `json:"status"`
	Type       string     `json:"type"`
	Error      *wireError `json:"error,omitempty"`
	Duration   string     `json:"duration,omitempty"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type wireTaskAck struct {
	TaskUID    int64     `json:"taskUid"`
	IndexUID   string    `json:"indexUid"`
	Status     string    `json:"status"`
	Type       string    `json:"type"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// opFailure is a task-level rejection produced while applying a write.
type opFailure struct {
	code    string
	errType string
	msg     string
}

func failOp(code, errType, format string, args ...any) *opFailure {
	return &opFailure{code: code, errType: errType, msg: fmt.Sprintf(format, args...)}
}

type taskRecord struct {
	uid        int64
	indexUID   string
	typ        string
	status     string
	failure    *opFailure
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// taskStore assigns engine-wide task UIDs and tracks their state machine:
// enqueued -> processing -> succeeded | failed.
type taskStore struct {
	mu    sync.Mutex
	next  int64
	tasks map[int64]*taskRecord
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: make(map[int64]*taskRecord)}
}

func (s *taskStore) create(typ, indexUID string) wireTaskAck {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := s.next
	s.next++
	rec := &taskRecord{
		uid:        uid,
		indexUID:   indexUID,
		typ:        typ,
		status:     statusEnqueued,
		enqueuedAt: time.Now().UTC(),
	}
	s.tasks[uid] = rec
	return wireTaskAck{
		TaskUID:    uid,
		IndexUID:   indexUID,
		Status:     statusEnqueued,
		Type:       typ,
		EnqueuedAt: rec.enqueuedAt,
	}
}

func (s *taskStore) start(uid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.tasks[uid]; ok {
		rec.status = statusProcessing
		rec.startedAt = time.Now().UTC()
	}
}

// finish moves a task to its terminal state: succeeded when failure is
// nil, failed otherwise.
func (s *taskStore) finish(uid int64, failure *opFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[uid]
	if !ok {
		return
	}
	rec.finishedAt = time.Now().UTC()
	if rec.startedAt.IsZero() {
		rec.startedAt = rec.finishedAt
	}
	if failure == nil {
		rec.status = statusSucceeded
	} else {
		rec.status = statusFailed
		rec.failure = failure
	}
}

func (s *taskStore) get(uid int64) (wireTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[uid]
	if !ok {
		return wireTask{}, false
	}
	wt := wireTask{
		UID:        rec.uid,
		IndexUID:   rec.indexUID,
		Status:     rec.status,
		Type:       rec.typ,
		EnqueuedAt: rec.enqueuedAt,
	}
	if !rec.startedAt.IsZero() {
		t := rec.startedAt
		wt.StartedAt = &t
	}
	if !rec.finishedAt.IsZero() {
		t := rec.finishedAt
		wt.FinishedAt = &t
		wt.Duration = fmt.Sprintf("PT%.3fS", rec.finishedAt.Sub(rec.startedAt).Seconds())
	}
	if rec.failure != nil {
		wt.Error = &wireError{
			Message: rec.failure.msg,
			Code:    rec.failure.code,
			Type:    rec.failure.errType,
		}
	}
	return wt, true
}
