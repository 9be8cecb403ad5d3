package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/geocoder89/eventops/internal/domain/job"
)

// EncodePayload checks the payload matches the job type and marshals it into
// the job's meta.
func EncodePayload(t job.Type, payload any) (json.RawMessage, error) {
	if !t.IsValid() {
		return nil, job.ErrInvalidJobType
	}

	switch t {
	case job.TypeBulkEmail:
		switch payload.(type) {
		case BulkEmailPayload, *BulkEmailPayload:
		default:
			return nil, job.ErrPayloadTypeMismatch
		}

	case job.TypeBulkCheckpoint:
		switch payload.(type) {
		case BulkCheckpointPayload, *BulkCheckpointPayload:
		default:
			return nil, job.ErrPayloadTypeMismatch
		}
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", job.ErrInvalidJobPayload, err)
	}

	return json.RawMessage(b), nil
}

// DecodePayload unmarshals job.Meta into the typed payload for its type.
func DecodePayload(j job.Job) (any, error) {
	if !j.Type.IsValid() {
		return nil, job.ErrInvalidJobType
	}
	if len(j.Meta) == 0 {
		return nil, job.ErrInvalidJobPayload
	}

	switch j.Type {
	case job.TypeBulkEmail:
		var p BulkEmailPayload
		if err := json.Unmarshal(j.Meta, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", job.ErrInvalidJobPayload, err)
		}
		return p, nil

	case job.TypeBulkCheckpoint:
		var p BulkCheckpointPayload
		if err := json.Unmarshal(j.Meta, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", job.ErrInvalidJobPayload, err)
		}
		return p, nil

	default:
		return nil, job.ErrInvalidJobType
	}
}

// TargetKeys returns the ordered target keys recorded in a job's meta.
func TargetKeys(j job.Job) ([]string, error) {
	decoded, err := DecodePayload(j)
	if err != nil {
		return nil, err
	}

	switch p := decoded.(type) {
	case BulkEmailPayload:
		return p.Keys(), nil
	case BulkCheckpointPayload:
		return p.Keys(), nil
	default:
		return nil, job.ErrPayloadTypeMismatch
	}
}
