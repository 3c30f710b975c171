package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stella-backend/internal/database"
	"stella-backend/internal/messaging"
	"stella-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ObjectKey is where the archived report of a conversation lives inside the
// report bucket.
func ObjectKey(userId string, conversationId uuid.UUID) string {
	return fmt.Sprintf("%s/%s.html", userId, conversationId)
}

type Processor struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	bucket   string
	builder  *Builder
	reciever messaging.Reciever
}

// NewProcessor creates a report processor. Reports are only archived to the
// object store when store is not nil.
func NewProcessor(db *gorm.DB, store storage.ObjectStore, bucket string, builder *Builder, reciever messaging.Reciever) *Processor {
	return &Processor{
		db:       db,
		storage:  store,
		bucket:   bucket,
		builder:  builder,
		reciever: reciever,
	}
}

func (proc *Processor) Start() {
	slog.Info("starting report processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *Processor) Stop() {
	slog.Info("stopping report processor")

	proc.reciever.Close()
}

func (proc *Processor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.ReportQueue:
		var payload messaging.ReportTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil || payload.ConversationId == uuid.Nil {
			slog.Error("malformed report task", "payload", string(task.Payload()), "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processReportTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		slog.Info("conversation no longer exists, dropping report task", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
	case err != nil:
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	default:
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *Processor) processReportTask(ctx context.Context, payload messaging.ReportTaskPayload) error {
	slog.Info("generating report", "conversation_id", payload.ConversationId)

	conv, err := database.LoadConversationForReport(ctx, proc.db, payload.ConversationId)
	if err != nil {
		return err
	}

	html, err := proc.builder.Build(ctx, *conv, conv.Messages)
	if err != nil {
		return fmt.Errorf("error building report for conversation %v: %w", conv.Id, err)
	}

	key := ""
	if proc.storage != nil {
		key = ObjectKey(conv.UserId, conv.Id)
		if err := proc.storage.PutObject(ctx, proc.bucket, key, strings.NewReader(html)); err != nil {
			slog.Error("error archiving report", "conversation_id", conv.Id, "key", key, "error", err)
			key = ""
		}
	}

	if err := database.SaveReport(ctx, proc.db, conv.Id, html, key); err != nil {
		if errors.Is(err, database.ErrNotFound) && key != "" {
			// Deleted while the report was being built.
			if err := proc.storage.DeleteObjects(ctx, proc.bucket, key); err != nil {
				slog.Error("error removing orphaned report", "conversation_id", conv.Id, "key", key, "error", err)
			}
		}
		return err
	}

	slog.Info("report generated", "conversation_id", conv.Id, "messages", len(conv.Messages))
	return nil
}
