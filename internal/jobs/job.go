// Package jobs carries side-effect work (notifications, transaction logs,
// low-stock alerts) from committed transactions to background handlers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrPermanent marks a job failure that retrying cannot fix
var ErrPermanent = errors.New("jobs: permanent failure")

// Permanent wraps err so the runner drops the job without retrying
func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// New builds an outbox job with a JSON payload
func New(jobType string, payload interface{}) (models.OutboxJob, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.OutboxJob{}, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	return models.OutboxJob{
		ID:        uuid.New(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals a job payload; a malformed payload is permanent
func Decode(job models.OutboxJob, v interface{}) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", job.Type, err))
	}
	return nil
}

// Marshal encodes a whole job envelope for transport
func Marshal(job models.OutboxJob) ([]byte, error) {
	return json.Marshal(job)
}

// Unmarshal decodes a job envelope received from transport
func Unmarshal(data []byte) (models.OutboxJob, error) {
	var job models.OutboxJob
	if err := json.Unmarshal(data, &job); err != nil {
		return models.OutboxJob{}, err
	}
	return job, nil
}

// Publisher hands a job to whatever executes it
type Publisher interface {
	Publish(ctx context.Context, job models.OutboxJob) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, job models.OutboxJob) error

func (f PublisherFunc) Publish(ctx context.Context, job models.OutboxJob) error {
	return f(ctx, job)
}
