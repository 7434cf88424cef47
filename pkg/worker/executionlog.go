package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/queue"
)

// ExecutionLogWorker stores the details delivered on the EXECUTION_LOG topic.
type ExecutionLogWorker struct {
	store  *executionlog.Store
	logger *slog.Logger
}

func NewExecutionLogWorker(store *executionlog.Store, logger *slog.Logger) *ExecutionLogWorker {
	return &ExecutionLogWorker{
		store:  store,
		logger: logger.With("module", "execution_log_worker"),
	}
}

func (w *ExecutionLogWorker) Handle(ctx context.Context, msg *queue.Message) error {
	var detail models.ExecutionDetail

	err := msg.Decode(&detail)
	if err != nil {
		w.logger.ErrorContext(ctx, "dropping undecodable execution detail", "message_id", msg.ID, "error", err)

		return nil
	}

	err = w.store.Create(ctx, &detail)

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		w.logger.ErrorContext(ctx, "dropping invalid execution detail",
			"detail_id", detail.ID,
			"transaction_id", detail.TransactionID,
			"error", err,
		)

		return nil
	}

	return err
}
