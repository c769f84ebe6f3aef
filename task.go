package mimir

import (
	"time"
)

// TaskStatus is the lifecycle state of an asynchronous write.
type TaskStatus string

const (
	TaskEnqueued   TaskStatus = "enqueued"
	TaskProcessing TaskStatus = "processing"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Task is the handle for a write accepted by the engine but not yet
// guaranteed durable or visible. Poll it with Instance.GetTask or block
// with Instance.WaitForTask.
type Task struct {
	// UID identifies the task engine-wide.
	UID int64
	// IndexUID is the index the task targets, empty for global tasks.
	IndexUID string
	// Status is the last observed lifecycle state.
	Status TaskStatus
	// Type is the engine's operation name, e.g. "documentAdditionOrUpdate".
	Type string
	// Error holds the mapped engine error when Status is failed.
	Error *Error

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Err returns the task's failure as an error, or nil while it has not
// failed. A non-terminal task returns nil; await it first.
func (t Task) Err() error {
	if t.Status != TaskFailed {
		return nil
	}
	if t.Error != nil {
		return t.Error
	}
	return errorf(KindEngine, "unknown", "task %d failed", t.UID)
}

// taskEnvelope is the engine's wire shape for a task.
type taskEnvelope struct {
	UID        int64          `json:"uid"`
	IndexUID   string         `json:"indexUid"`
	Status     string         `json:"status"`
	Type       string         `json:"type"`
	Error      *errorEnvelope `json:"error,omitempty"`
	Duration   string         `json:"duration,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

// summaryEnvelope is the short task acknowledgement returned by writes.
type summaryEnvelope struct {
	TaskUID    int64     `json:"taskUid"`
	IndexUID   string    `json:"indexUid"`
	Status     string    `json:"status"`
	Type       string    `json:"type"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (env taskEnvelope) toTask() Task {
	t := Task{
		UID:        env.UID,
		IndexUID:   env.IndexUID,
		Status:     TaskStatus(env.Status),
		Type:       env.Type,
		EnqueuedAt: env.EnqueuedAt,
	}
	if env.Error != nil {
		t.Error = mapEngineError(0, *env.Error)
	}
	if env.StartedAt != nil {
		t.StartedAt = *env.StartedAt
	}
	if env.FinishedAt != nil {
		t.FinishedAt = *env.FinishedAt
	}
	if env.Duration != "" {
		if d, err := time.ParseDuration(normalizeDuration(env.Duration)); err == nil {
			t.Duration = d
		}
	}
	return t
}

func (env summaryEnvelope) toTask() Task {
	return Task{
		UID:        env.TaskUID,
		IndexUID:   env.IndexUID,
		Status:     TaskStatus(env.Status),
		Type:       env.Type,
		EnqueuedAt: env.EnqueuedAt,
	}
}

// normalizeDuration accepts both Go duration strings and the engine's
// ISO 8601 durations like "PT0.1S".
func normalizeDuration(s string) string {
	if len(s) > 2 && s[0] == 'P' && s[1] == 'T' && s[len(s)-1] == 'S' {
		return s[2:len(s)-1] + "s"
	}
	return s
}
