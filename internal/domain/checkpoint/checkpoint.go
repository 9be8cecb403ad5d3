package checkpoint

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeEntry       Type = "entry"
	TypeRefreshment Type = "refreshment"
	TypeSwag        Type = "swag"
)

// Types lists every checkpoint in display order.
var Types = []Type{TypeEntry, TypeRefreshment, TypeSwag}

func (t Type) IsValid() bool {
	switch t {
	case TypeEntry, TypeRefreshment, TypeSwag:
		return true
	default:
		return false
	}
}

// RequiresEntry reports whether the single-scan API demands a prior entry scan.
func (t Type) RequiresEntry() bool {
	return t == TypeRefreshment || t == TypeSwag
}

type Method string

const (
	MethodQR     Method = "qr"
	MethodTicket Method = "ticket"
	MethodEmail  Method = "email"
	MethodManual Method = "manual"
)

func (m Method) IsValid() bool {
	switch m {
	case "", MethodQR, MethodTicket, MethodEmail, MethodManual:
		return true
	default:
		return false
	}
}

type Action string

const (
	ActionMark Action = "mark"
	ActionUndo Action = "undo"
)

func (a Action) IsValid() bool {
	return a == ActionMark || a == ActionUndo
}

var (
	ErrInvalidCheckpoint = errors.New("invalid checkpoint type")
	ErrInvalidMethod     = errors.New("invalid scan method")
	ErrAttendeeNotFound  = errors.New("attendee not found for event")
	ErrEntryRequired     = errors.New("entry scan required before this checkpoint")
	ErrNoIdentifier      = errors.New("no attendee identifier supplied")

	// ErrAlreadyScanned is returned by stores when the unique
	// (rsvp, event, checkpoint) key already exists.
	ErrAlreadyScanned = errors.New("checkpoint already scanned")
)

// Scan is one recorded pass of an attendee through a checkpoint. At most one
// exists per (RSVPID, EventID, Type).
type Scan struct {
	ID         string    `json:"id"`
	RSVPID     string    `json:"rsvpId"`
	EventID    string    `json:"eventId"`
	Type       Type      `json:"checkpointType"`
	ScannedAt  time.Time `json:"scannedAt"`
	ScannedBy  *string   `json:"scannedBy,omitempty"`
	ScanMethod *Method   `json:"scanMethod,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
}

type ScanRequest struct {
	RSVPID    string
	EventID   string
	Type      Type
	ScannedBy string
	Method    Method
	Notes     string
}

func NewScan(req ScanRequest, now time.Time) Scan {
	s := Scan{
		ID:        uuid.NewString(),
		RSVPID:    req.RSVPID,
		EventID:   req.EventID,
		Type:      req.Type,
		ScannedAt: now.UTC(),
	}

	if req.ScannedBy != "" {
		by := req.ScannedBy
		s.ScannedBy = &by
	}
	if req.Method != "" {
		m := req.Method
		s.ScanMethod = &m
	}
	if req.Notes != "" {
		n := req.Notes
		s.Notes = &n
	}

	return s
}

type ScanResult struct {
	Created        bool `json:"created"`
	AlreadyScanned bool `json:"alreadyScanned"`
	Scan           Scan `json:"scan"`
}

// Status is the read-only projection of one attendee's checkpoints.
type Status struct {
	RSVPID         string     `json:"rsvpId"`
	EventID        string     `json:"eventId"`
	HasEntry       bool       `json:"hasEntry"`
	HasRefreshment bool       `json:"hasRefreshment"`
	HasSwag        bool       `json:"hasSwag"`
	EntryAt        *time.Time `json:"entryAt,omitempty"`
	RefreshmentAt  *time.Time `json:"refreshmentAt,omitempty"`
	SwagAt         *time.Time `json:"swagAt,omitempty"`
}

func StatusFromScans(rsvpID, eventID string, scans []Scan) Status {
	st := Status{RSVPID: rsvpID, EventID: eventID}

	for _, s := range scans {
		at := s.ScannedAt
		switch s.Type {
		case TypeEntry:
			st.HasEntry = true
			st.EntryAt = &at
		case TypeRefreshment:
			st.HasRefreshment = true
			st.RefreshmentAt = &at
		case TypeSwag:
			st.HasSwag = true
			st.SwagAt = &at
		}
	}

	return st
}

func (s Status) Has(t Type) bool {
	switch t {
	case TypeEntry:
		return s.HasEntry
	case TypeRefreshment:
		return s.HasRefreshment
	case TypeSwag:
		return s.HasSwag
	default:
		return false
	}
}

// Stats aggregates checkpoint counts over an event's approved and invited
// attendees.
type Stats struct {
	EventID    string           `json:"eventId"`
	Total      int              `json:"total"`
	Counts     map[Type]int     `json:"perCheckpointCount"`
	Percentage map[Type]float64 `json:"perCheckpointPercentage"`
}

func NewStats(eventID string, total int, counts map[Type]int) Stats {
	st := Stats{
		EventID:    eventID,
		Total:      total,
		Counts:     make(map[Type]int, len(Types)),
		Percentage: make(map[Type]float64, len(Types)),
	}

	for _, t := range Types {
		c := counts[t]
		st.Counts[t] = c

		if total > 0 {
			// one decimal place
			st.Percentage[t] = float64(int(float64(c)*1000/float64(total)+0.5)) / 10
		} else {
			st.Percentage[t] = 0
		}
	}

	return st
}
