package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/job"
	"github.com/geocoder89/eventops/internal/domain/registration"
	"github.com/geocoder89/eventops/internal/queue/worker"
	"github.com/geocoder89/eventops/internal/templating"
)

// Skip reasons recorded in a job's skipReasons.
const (
	SkipAlreadyScanned   = "alreadyScanned"
	SkipNotScanned       = "notScanned"
	SkipAttendeeNotFound = "attendeeNotFound"
)

// plan decodes the job's meta into its ordered units of work.
func (s *Service) plan(_ context.Context, j job.Job) ([]worker.Unit, error) {
	decoded, err := DecodePayload(j)

	if err != nil {
		return nil, err
	}

	switch p := decoded.(type) {
	case BulkEmailPayload:
		return s.emailUnits(p), nil
	case BulkCheckpointPayload:
		return s.checkpointUnits(p), nil
	default:
		return nil, fmt.Errorf("%w: %T", job.ErrPayloadTypeMismatch, decoded)
	}
}

// RecipientFields are the placeholders every recipient provides. Custom
// fields cannot shadow them.
func RecipientFields(r Recipient) templating.Fields {
	f := make(templating.Fields, len(r.Fields)+6)

	for k, v := range r.Fields {
		f[k] = v
	}

	f["name"] = r.Name
	f["email"] = r.Email
	f["eventTitle"] = r.EventTitle
	f["ticketNumber"] = r.TicketNumber
	f["affiliation"] = r.Affiliation
	f["rsvpId"] = r.RSVPID

	return f
}

func (s *Service) emailUnits(p BulkEmailPayload) []worker.Unit {
	units := make([]worker.Unit, 0, len(p.Recipients))

	for _, r := range p.Recipients {
		fields := RecipientFields(r)

		units = append(units, worker.Unit{
			Key: r.Key(),
			Do: func(ctx context.Context) error {
				subject := templating.RenderText(p.Subject, fields)
				body := templating.RenderHTML(p.Body, fields)

				return s.mailer.Send(ctx, r.Email, subject, body)
			},
		})
	}

	return units
}

func (s *Service) checkpointUnits(p BulkCheckpointPayload) []worker.Unit {
	units := make([]worker.Unit, 0, len(p.RSVPIDs))

	for _, id := range p.RSVPIDs {
		units = append(units, worker.Unit{
			Key: id,
			Do: func(ctx context.Context) error {
				if p.Action == checkpoint.ActionUndo {
					return s.undoScan(ctx, p, id)
				}
				return s.markScan(ctx, p, id)
			},
		})
	}

	return units
}

func (s *Service) markScan(ctx context.Context, p BulkCheckpointPayload, rsvpID string) error {
	res, err := s.scanner.Scan(ctx, checkpoint.ScanRequest{
		RSVPID:    rsvpID,
		EventID:   p.EventID,
		Type:      p.CheckpointType,
		ScannedBy: p.CreatedBy,
		Method:    checkpoint.MethodManual,
		Notes:     p.Notes,
	})

	if isNotFound(err) {
		return worker.Skip(SkipAttendeeNotFound)
	}

	if err != nil {
		return err
	}

	if res.AlreadyScanned {
		return worker.Skip(SkipAlreadyScanned)
	}

	return nil
}

func (s *Service) undoScan(ctx context.Context, p BulkCheckpointPayload, rsvpID string) error {
	removed, err := s.scanner.Unscan(ctx, rsvpID, p.EventID, p.CheckpointType)

	if isNotFound(err) {
		return worker.Skip(SkipAttendeeNotFound)
	}

	if err != nil {
		return err
	}

	if !removed {
		return worker.Skip(SkipNotScanned)
	}

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, checkpoint.ErrAttendeeNotFound) || errors.Is(err, registration.ErrNotFound)
}
