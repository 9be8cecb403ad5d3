package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type Type string

const (
	TypeBulkEmail      Type = "bulkEmail"
	TypeBulkCheckpoint Type = "bulkCheckpoint"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrInvalidJobType      = errors.New("invalid job type")
	ErrInvalidTransition   = errors.New("invalid job status transition")
	ErrNothingToRetry      = errors.New("job has no failed targets to retry")
	ErrJobActive           = errors.New("job is still active")
	ErrInvalidJobPayload   = errors.New("invalid job payload")
	ErrPayloadTypeMismatch = errors.New("payload type mismatch for job type")
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition encodes queued -> running -> {completed, failed, cancelled}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

func (t Type) IsValid() bool {
	switch t {
	case TypeBulkEmail, TypeBulkCheckpoint:
		return true
	default:
		return false
	}
}

// Job is the tracked record of one bulk operation. Timestamps are
// milliseconds since the epoch.
type Job struct {
	ID             string            `json:"id"`
	Type           Type              `json:"type"`
	Status         Status            `json:"status"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
	StartedAt      *int64            `json:"startedAt,omitempty"`
	FinishedAt     *int64            `json:"finishedAt,omitempty"`
	Progress       int               `json:"progress"`
	Total          int               `json:"total"`
	Succeeded      int               `json:"succeeded"`
	Skipped        int               `json:"skipped"`
	Cancelled      bool              `json:"cancelled"`
	Error          *string           `json:"error,omitempty"`
	Meta           json.RawMessage   `json:"meta"`
	Failed         []string          `json:"failed"`
	FailureReasons map[string]string `json:"failureReasons"`
	SkippedKeys    []string          `json:"skippedKeys"`
	SkipReasons    map[string]string `json:"skipReasons"`
}

type CreateRequest struct {
	Type  Type
	Total int
	Meta  json.RawMessage
}

func New(req CreateRequest, now time.Time) (Job, error) {
	if !req.Type.IsValid() {
		return Job{}, ErrInvalidJobType
	}

	if req.Total < 0 {
		return Job{}, ErrInvalidJobPayload
	}

	ms := now.UnixMilli()

	return Job{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Status:         StatusQueued,
		CreatedAt:      ms,
		UpdatedAt:      ms,
		Total:          req.Total,
		Meta:           req.Meta,
		Failed:         []string{},
		FailureReasons: map[string]string{},
		SkippedKeys:    []string{},
		SkipReasons:    map[string]string{},
	}, nil
}

// Transition moves the job to the next status, stamping startedAt or
// finishedAt as appropriate.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return ErrInvalidTransition
	}

	j.Status = to
	j.Touch(now)

	ts := j.UpdatedAt
	switch {
	case to == StatusRunning:
		j.StartedAt = &ts
	case to.IsTerminal():
		j.FinishedAt = &ts
	}

	return nil
}

// Touch bumps updatedAt without letting it move backwards.
func (j *Job) Touch(now time.Time) {
	ms := now.UnixMilli()
	if ms < j.UpdatedAt {
		ms = j.UpdatedAt
	}
	j.UpdatedAt = ms
}

func (j *Job) RecordSuccess() {
	j.Succeeded++
	j.advance()
}

func (j *Job) RecordFailure(key, reason string) {
	if j.FailureReasons == nil {
		j.FailureReasons = map[string]string{}
	}
	if reason == "" {
		reason = "unknown error"
	}

	j.Failed = append(j.Failed, key)
	j.FailureReasons[key] = reason
	j.advance()
}

func (j *Job) RecordSkip(key, reason string) {
	if j.SkipReasons == nil {
		j.SkipReasons = map[string]string{}
	}

	j.Skipped++
	j.SkippedKeys = append(j.SkippedKeys, key)
	j.SkipReasons[key] = reason
	j.advance()
}

func (j *Job) advance() {
	if j.Progress < j.Total {
		j.Progress++
	}
}

// Clone returns a deep copy so callers never share slices or maps with a
// store's internal state.
func (j Job) Clone() Job {
	out := j

	if j.StartedAt != nil {
		v := *j.StartedAt
		out.StartedAt = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		out.FinishedAt = &v
	}
	if j.Error != nil {
		v := *j.Error
		out.Error = &v
	}

	out.Meta = append(json.RawMessage(nil), j.Meta...)
	out.Failed = append([]string{}, j.Failed...)
	out.SkippedKeys = append([]string{}, j.SkippedKeys...)

	out.FailureReasons = make(map[string]string, len(j.FailureReasons))
	for k, v := range j.FailureReasons {
		out.FailureReasons[k] = v
	}
	out.SkipReasons = make(map[string]string, len(j.SkipReasons))
	for k, v := range j.SkipReasons {
		out.SkipReasons[k] = v
	}

	return out
}
