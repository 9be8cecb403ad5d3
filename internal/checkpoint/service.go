// Package checkpoint records attendee checkpoint scans and derives per
// attendee status and per event stats from them.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/eventops/internal/cache"
	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/registration"
)

// Repo stores scans. Insert returns checkpoint.ErrAlreadyScanned when the
// (rsvp, event, type) key exists.
type Repo interface {
	Insert(ctx context.Context, s checkpoint.Scan) error
	Delete(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error)
	ListByRSVP(ctx context.Context, rsvpID, eventID string) ([]checkpoint.Scan, error)
	CountByType(ctx context.Context, rsvpID string, t checkpoint.Type) (int, error)
	// Stats counts scans over the event's approved and invited attendees.
	Stats(ctx context.Context, eventID string) (total int, counts map[checkpoint.Type]int, err error)
}

// Attendees is the slice of the registration store checkpoints need.
type Attendees interface {
	GetByID(ctx context.Context, eventID, id string) (registration.Registration, error)
	GetByEmail(ctx context.Context, eventID, email string) (registration.Registration, error)
	GetByTicket(ctx context.Context, eventID, ticket string) (registration.Registration, error)
	SetCheckedIn(ctx context.Context, id string, at time.Time) error
	ClearCheckedIn(ctx context.Context, id string) error
}

const lockStripes = 64

type Service struct {
	repo      Repo
	attendees Attendees
	stats     *cache.Cache[checkpoint.Stats]
	log       *slog.Logger
	now       func() time.Time

	// held across a scan write and its checked-in mirror update
	stripes [lockStripes]sync.Mutex
}

func (s *Service) lock(rsvpID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(rsvpID))

	mu := &s.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func NewService(repo Repo, attendees Attendees, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		repo:      repo,
		attendees: attendees,
		stats:     cache.New[checkpoint.Stats](5 * time.Second),
		log:       log,
		now:       time.Now,
	}
}

// Identifier names an attendee. Fields are tried in order ID, Email,
// TicketNumber, QRPayload; the first that resolves wins.
type Identifier struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	TicketNumber string `json:"ticketNumber"`
	QRPayload    string `json:"qrPayload"`
}

func (i Identifier) empty() bool {
	return strings.TrimSpace(i.ID) == "" &&
		strings.TrimSpace(i.Email) == "" &&
		strings.TrimSpace(i.TicketNumber) == "" &&
		strings.TrimSpace(i.QRPayload) == ""
}

type qrPayload struct {
	RSVPID  string `json:"rsvpId"`
	EventID string `json:"eventId"`
}

func (s *Service) ResolveAttendee(ctx context.Context, eventID string, id Identifier) (registration.Registration, error) {
	if id.empty() {
		return registration.Registration{}, checkpoint.ErrNoIdentifier
	}

	lookups := []func() (registration.Registration, error){}

	if v := strings.TrimSpace(id.ID); v != "" {
		lookups = append(lookups, func() (registration.Registration, error) {
			return s.attendees.GetByID(ctx, eventID, v)
		})
	}
	if v := registration.NormalizeEmail(id.Email); v != "" {
		lookups = append(lookups, func() (registration.Registration, error) {
			return s.attendees.GetByEmail(ctx, eventID, v)
		})
	}
	if v := strings.TrimSpace(id.TicketNumber); v != "" {
		lookups = append(lookups, func() (registration.Registration, error) {
			return s.attendees.GetByTicket(ctx, eventID, v)
		})
	}
	if v := strings.TrimSpace(id.QRPayload); v != "" {
		lookups = append(lookups, func() (registration.Registration, error) {
			return s.resolveQR(ctx, eventID, v)
		})
	}

	for _, lookup := range lookups {
		reg, err := lookup()

		if err == nil {
			return reg, nil
		}

		if !errors.Is(err, registration.ErrNotFound) {
			return registration.Registration{}, err
		}
	}

	return registration.Registration{}, checkpoint.ErrAttendeeNotFound
}

// resolveQR accepts the JSON badge payload; anything else is read as a
// ticket number.
func (s *Service) resolveQR(ctx context.Context, eventID, raw string) (registration.Registration, error) {
	var p qrPayload

	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.RSVPID == "" {
		return s.attendees.GetByTicket(ctx, eventID, raw)
	}

	if p.EventID != "" && p.EventID != eventID {
		return registration.Registration{}, registration.ErrNotFound
	}

	return s.attendees.GetByID(ctx, eventID, p.RSVPID)
}

// Scan records a checkpoint pass. A second scan of the same key reports
// AlreadyScanned with the original row. Ordering between checkpoints is not
// checked here; see CheckOrder.
func (s *Service) Scan(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error) {
	if !req.Type.IsValid() {
		return checkpoint.ScanResult{}, checkpoint.ErrInvalidCheckpoint
	}
	if !req.Method.IsValid() {
		return checkpoint.ScanResult{}, checkpoint.ErrInvalidMethod
	}

	scan := checkpoint.NewScan(req, s.now())

	unlock := s.lock(req.RSVPID)
	defer unlock()

	err := s.repo.Insert(ctx, scan)

	if errors.Is(err, checkpoint.ErrAlreadyScanned) {
		existing := s.existing(ctx, req.RSVPID, req.EventID, req.Type)
		return checkpoint.ScanResult{AlreadyScanned: true, Scan: existing}, nil
	}

	if err != nil {
		return checkpoint.ScanResult{}, fmt.Errorf("insert scan: %w", err)
	}

	if req.Type == checkpoint.TypeEntry {
		if err := s.attendees.SetCheckedIn(ctx, req.RSVPID, scan.ScannedAt); err != nil {
			s.log.WarnContext(ctx, "checkpoint.mirror_set_failed",
				"rsvp_id", req.RSVPID,
				"err", err,
			)
		}
	}

	s.stats.Delete(req.EventID)

	return checkpoint.ScanResult{Created: true, Scan: scan}, nil
}

func (s *Service) existing(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) checkpoint.Scan {
	scans, err := s.repo.ListByRSVP(ctx, rsvpID, eventID)

	if err != nil {
		return checkpoint.Scan{RSVPID: rsvpID, EventID: eventID, Type: t}
	}

	for _, sc := range scans {
		if sc.Type == t {
			return sc
		}
	}

	return checkpoint.Scan{RSVPID: rsvpID, EventID: eventID, Type: t}
}

// Unscan removes the scan and reports whether a row was deleted. Removing the
// attendee's last entry scan clears the legacy checked-in timestamp.
func (s *Service) Unscan(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error) {
	if !t.IsValid() {
		return false, checkpoint.ErrInvalidCheckpoint
	}

	unlock := s.lock(rsvpID)
	defer unlock()

	removed, err := s.repo.Delete(ctx, rsvpID, eventID, t)

	if err != nil {
		return false, fmt.Errorf("delete scan: %w", err)
	}

	if !removed {
		return false, nil
	}

	s.stats.Delete(eventID)

	if t != checkpoint.TypeEntry {
		return true, nil
	}

	left, err := s.repo.CountByType(ctx, rsvpID, checkpoint.TypeEntry)

	if err != nil {
		s.log.WarnContext(ctx, "checkpoint.mirror_count_failed",
			"rsvp_id", rsvpID,
			"err", err,
		)
		return true, nil
	}

	if left == 0 {
		if err := s.attendees.ClearCheckedIn(ctx, rsvpID); err != nil {
			s.log.WarnContext(ctx, "checkpoint.mirror_clear_failed",
				"rsvp_id", rsvpID,
				"err", err,
			)
		}
	}

	return true, nil
}

func (s *Service) Status(ctx context.Context, rsvpID, eventID string) (checkpoint.Status, error) {
	scans, err := s.repo.ListByRSVP(ctx, rsvpID, eventID)

	if err != nil {
		return checkpoint.Status{}, fmt.Errorf("list scans: %w", err)
	}

	return checkpoint.StatusFromScans(rsvpID, eventID, scans), nil
}

// CheckOrder enforces that refreshment and swag follow entry. The single-scan
// API calls it; bulk jobs deliberately do not.
func (s *Service) CheckOrder(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) error {
	if !t.RequiresEntry() {
		return nil
	}

	st, err := s.Status(ctx, rsvpID, eventID)

	if err != nil {
		return err
	}

	if !st.HasEntry {
		return checkpoint.ErrEntryRequired
	}

	return nil
}

func (s *Service) Stats(ctx context.Context, eventID string) (checkpoint.Stats, error) {
	if st, ok := s.stats.Get(eventID); ok {
		return st, nil
	}

	total, counts, err := s.repo.Stats(ctx, eventID)

	if err != nil {
		return checkpoint.Stats{}, fmt.Errorf("checkpoint stats: %w", err)
	}

	st := checkpoint.NewStats(eventID, total, counts)
	s.stats.Set(eventID, st)

	return st, nil
}
