package worker

import (
	"context"
	"log/slog"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/novu-co/novu-sub003/pkg/workflow"
)

// WorkflowWorker expands the triggers delivered on the WORKFLOW topic.
type WorkflowWorker struct {
	expander *workflow.Expander
	logger   *slog.Logger
}

func NewWorkflowWorker(expander *workflow.Expander, logger *slog.Logger) *WorkflowWorker {
	return &WorkflowWorker{
		expander: expander,
		logger:   logger.With("module", "workflow_worker"),
	}
}

// Handle expands one trigger. Failures that cannot succeed on redelivery are acknowledged.
func (w *WorkflowWorker) Handle(ctx context.Context, msg *queue.Message) error {
	var data models.TriggerJobData

	err := msg.Decode(&data)
	if err != nil {
		w.logger.ErrorContext(ctx, "dropping undecodable trigger message", "message_id", msg.ID, "error", err)

		return nil
	}

	err = w.expander.Process(ctx, data)
	if err == nil {
		return nil
	}

	if workflow.IsPermanent(err) {
		w.logger.ErrorContext(ctx, "trigger expansion failed permanently",
			"transaction_id", data.TransactionID,
			"workflow", data.Identifier,
			"error", err,
		)

		return nil
	}

	w.logger.WarnContext(ctx, "trigger expansion failed, will be redelivered",
		"transaction_id", data.TransactionID,
		"workflow", data.Identifier,
		"error", err,
	)

	return err
}

// Exhausted records the failure of a trigger whose expansion kept failing.
func (w *WorkflowWorker) Exhausted(ctx context.Context, msg *queue.Message, err error) {
	var data models.TriggerJobData

	decodeErr := msg.Decode(&data)
	if decodeErr != nil {
		w.logger.ErrorContext(ctx, "dropping undecodable trigger message", "message_id", msg.ID, "error", decodeErr)

		return
	}

	w.expander.Abandon(ctx, data, err)
}
