package jobs

import (
	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/registration"
)

// Recipient is one target of a bulk email. Its email address is the target key.
type Recipient struct {
	Email        string            `json:"email" binding:"required,email"`
	Name         string            `json:"name" binding:"omitempty,max=200"`
	EventTitle   string            `json:"eventTitle,omitempty"`
	TicketNumber string            `json:"ticketNumber,omitempty"`
	Affiliation  string            `json:"affiliation,omitempty"`
	RSVPID       string            `json:"rsvpId,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

func (r Recipient) Key() string {
	return registration.NormalizeEmail(r.Email)
}

// BulkEmailPayload is stored as the meta of a bulkEmail job.
type BulkEmailPayload struct {
	EventID    string      `json:"eventId,omitempty"`
	Subject    string      `json:"subject" binding:"required,max=300"`
	Body       string      `json:"body" binding:"required"`
	Recipients []Recipient `json:"recipients" binding:"required,min=1,dive"`
	CreatedBy  string      `json:"createdBy,omitempty"`
	RetryOf    string      `json:"retryOf,omitempty"`
}

func (p BulkEmailPayload) Keys() []string {
	keys := make([]string, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		keys = append(keys, r.Key())
	}
	return keys
}

// Subset keeps the recipients whose key is in keep, preserving order.
func (p BulkEmailPayload) Subset(keep map[string]struct{}) BulkEmailPayload {
	out := p
	out.Recipients = make([]Recipient, 0, len(keep))

	for _, r := range p.Recipients {
		if _, ok := keep[r.Key()]; ok {
			out.Recipients = append(out.Recipients, r)
		}
	}

	return out
}

// BulkCheckpointPayload is stored as the meta of a bulkCheckpoint job. The
// rsvp id is the target key.
type BulkCheckpointPayload struct {
	EventID        string            `json:"eventId"`
	CheckpointType checkpoint.Type   `json:"checkpointType" binding:"required,oneof=entry refreshment swag"`
	Action         checkpoint.Action `json:"action" binding:"required,oneof=mark undo"`
	RSVPIDs        []string          `json:"rsvpIds" binding:"required,min=1,dive,required"`
	Notes          string            `json:"notes,omitempty" binding:"omitempty,max=500"`
	CreatedBy      string            `json:"createdBy,omitempty"`
	RetryOf        string            `json:"retryOf,omitempty"`
}

func (p BulkCheckpointPayload) Keys() []string {
	return append([]string{}, p.RSVPIDs...)
}

func (p BulkCheckpointPayload) Subset(keep map[string]struct{}) BulkCheckpointPayload {
	out := p
	out.RSVPIDs = make([]string, 0, len(keep))

	for _, id := range p.RSVPIDs {
		if _, ok := keep[id]; ok {
			out.RSVPIDs = append(out.RSVPIDs, id)
		}
	}

	return out
}
