package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ReportQueue     = "report_queue"
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

// ReportTaskPayload asks the worker to regenerate the summary report of a
// conversation after new messages were appended to it.
type ReportTaskPayload struct {
	ConversationId uuid.UUID
}

type Publisher interface {
	PublishReportTask(ctx context.Context, payload ReportTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
