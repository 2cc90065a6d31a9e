package worker

import (
	"context"
	"time"

	"flowoms/internal/broker"
	"flowoms/internal/models"
	"flowoms/internal/syncsvc"
	"flowoms/internal/unpaid"
	"flowoms/internal/util"

	"go.uber.org/zap"
)

// Per-task retry policies. The cancellation job gets exactly one attempt:
// retrying a cancel whose remote half may have succeeded risks divergence,
// the next sweep will re-enqueue it if the order is still unpaid.
var (
	syncPolicy         = RetryPolicy{MaxAttempts: 3, Backoff: 60 * time.Second, Timeout: 10 * time.Minute}
	warningPolicy      = RetryPolicy{MaxAttempts: 3, Backoff: 5 * time.Minute, Timeout: 2 * time.Minute}
	cancellationPolicy = RetryPolicy{MaxAttempts: 1, Timeout: 2 * time.Minute}
)

// TaskWorker consumes the task topic and dispatches to the jobs under their
// retry policies.
type TaskWorker struct {
	consumer     *broker.Consumer
	handler      *broker.TaskHandler
	syncJob      *syncsvc.Job
	warning      *unpaid.WarningJob
	cancellation *unpaid.CancellationJob
	logger       *zap.Logger
}

// NewTaskWorker wires the task handler to the jobs
func NewTaskWorker(consumer *broker.Consumer, syncJob *syncsvc.Job, warning *unpaid.WarningJob, cancellation *unpaid.CancellationJob) *TaskWorker {
	w := &TaskWorker{
		consumer:     consumer,
		handler:      broker.NewTaskHandler(),
		syncJob:      syncJob,
		warning:      warning,
		cancellation: cancellation,
		logger:       util.GetLogger(),
	}

	w.handler.OnSyncRequested(w.handleSyncRequested)
	w.handler.OnUnpaidWarningDue(w.handleWarningDue)
	w.handler.OnUnpaidCancellationDue(w.handleCancellationDue)
	return w
}

// Run consumes tasks until the context is canceled.
func (w *TaskWorker) Run(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

func (w *TaskWorker) handleSyncRequested(ctx context.Context, task *models.SyncRequestedTask) error {
	return RunWithRetry(ctx, w.logger, "order_sync", syncPolicy, func(ctx context.Context) error {
		return w.syncJob.Run(ctx, syncsvc.JobParams{
			TenantID: task.TenantID,
			StoreID:  task.StoreID,
			Days:     task.Days,
			PageSize: task.PageSize,
			Page:     task.Page,
			BatchID:  task.BatchID,
		})
	})
}

func (w *TaskWorker) handleWarningDue(ctx context.Context, task *models.UnpaidWarningDueTask) error {
	return RunWithRetry(ctx, w.logger, "unpaid_warning", warningPolicy, func(ctx context.Context) error {
		return w.warning.Run(ctx, task.OrderID)
	})
}

func (w *TaskWorker) handleCancellationDue(ctx context.Context, task *models.UnpaidCancellationDueTask) error {
	return RunWithRetry(ctx, w.logger, "unpaid_cancellation", cancellationPolicy, func(ctx context.Context) error {
		return w.cancellation.Run(ctx, task.OrderID)
	})
}
