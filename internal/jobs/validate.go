package jobs

import (
	"strings"

	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/job"
)

// ValidatePayload performs the admission checks that struct binding cannot
// express. It does not touch any store.
func ValidatePayload(t job.Type, payload any) error {
	if !t.IsValid() {
		return job.ErrInvalidJobType
	}

	trim := func(s string) string { return strings.TrimSpace(s) }

	switch t {
	case job.TypeBulkEmail:
		var p BulkEmailPayload
		switch v := payload.(type) {
		case BulkEmailPayload:
			p = v
		case *BulkEmailPayload:
			p = *v
		default:
			return job.ErrPayloadTypeMismatch
		}
		if trim(p.Subject) == "" || trim(p.Body) == "" || len(p.Recipients) == 0 {
			return job.ErrInvalidJobPayload
		}
		for _, r := range p.Recipients {
			if r.Key() == "" || !strings.Contains(r.Key(), "@") {
				return job.ErrInvalidJobPayload
			}
		}
		return nil

	case job.TypeBulkCheckpoint:
		var p BulkCheckpointPayload
		switch v := payload.(type) {
		case BulkCheckpointPayload:
			p = v
		case *BulkCheckpointPayload:
			p = *v
		default:
			return job.ErrPayloadTypeMismatch
		}
		if trim(p.EventID) == "" || len(p.RSVPIDs) == 0 {
			return job.ErrInvalidJobPayload
		}
		if !p.CheckpointType.IsValid() {
			return checkpoint.ErrInvalidCheckpoint
		}
		if !p.Action.IsValid() {
			return job.ErrInvalidJobPayload
		}
		for _, id := range p.RSVPIDs {
			if trim(id) == "" {
				return job.ErrInvalidJobPayload
			}
		}
		return nil

	default:
		return job.ErrInvalidJobType
	}
}

// DedupeRecipients drops repeated addresses, keeping the first occurrence.
func DedupeRecipients(in []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(in))
	out := make([]Recipient, 0, len(in))

	for _, r := range in {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}

	return out
}

// DedupeIDs drops repeated ids, keeping the first occurrence.
func DedupeIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))

	for _, id := range in {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
