package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ValidationQueue = "validation_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// ValidationTaskPayload asks a worker to run one validation pass.
type ValidationTaskPayload struct {
	RunId uuid.UUID

	GlobalStep     int
	ValidationType string

	ForceEvaluation bool
	SkipExecution   bool
}

type Publisher interface {
	PublishValidationTask(ctx context.Context, payload ValidationTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
