package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"flowoms/internal/models"
	"flowoms/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SignalSink is the abstract event emitter jobs depend on. Emission is
// fire-and-forget from the caller's point of view; delivery guarantees are
// the sink's concern.
type SignalSink interface {
	Emit(ctx context.Context, key string, event interface{}) error
}

// KafkaSignalSink publishes signals on the signal topic
type KafkaSignalSink struct {
	producer *Producer
}

// NewKafkaSignalSink creates a signal sink backed by a Kafka producer
func NewKafkaSignalSink(producer *Producer) *KafkaSignalSink {
	return &KafkaSignalSink{producer: producer}
}

func (s *KafkaSignalSink) Emit(ctx context.Context, key string, event interface{}) error {
	return s.producer.PublishJSON(ctx, key, event)
}

// NopSignalSink discards all signals. Used in tests.
type NopSignalSink struct{}

func (NopSignalSink) Emit(ctx context.Context, key string, event interface{}) error { return nil }

// OrderKey builds the partition key for order-scoped signals so all signals
// for one order stay ordered.
func OrderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// TaskQueue enqueues background tasks on the task topic
type TaskQueue struct {
	producer *Producer
}

// NewTaskQueue creates a task queue backed by a Kafka producer
func NewTaskQueue(producer *Producer) *TaskQueue {
	return &TaskQueue{producer: producer}
}

func (q *TaskQueue) Enqueue(ctx context.Context, key string, task interface{}) error {
	return q.producer.PublishJSON(ctx, key, task)
}

// TaskHandler routes task messages to registered handlers
type TaskHandler struct {
	logger *zap.Logger

	onSyncRequested         func(context.Context, *models.SyncRequestedTask) error
	onUnpaidWarningDue      func(context.Context, *models.UnpaidWarningDueTask) error
	onUnpaidCancellationDue func(context.Context, *models.UnpaidCancellationDueTask) error
}

// NewTaskHandler creates an empty task handler
func NewTaskHandler() *TaskHandler {
	return &TaskHandler{logger: util.GetLogger()}
}

// OnSyncRequested registers the sync task handler
func (th *TaskHandler) OnSyncRequested(handler func(context.Context, *models.SyncRequestedTask) error) {
	th.onSyncRequested = handler
}

// OnUnpaidWarningDue registers the warning task handler
func (th *TaskHandler) OnUnpaidWarningDue(handler func(context.Context, *models.UnpaidWarningDueTask) error) {
	th.onUnpaidWarningDue = handler
}

// OnUnpaidCancellationDue registers the cancellation task handler
func (th *TaskHandler) OnUnpaidCancellationDue(handler func(context.Context, *models.UnpaidCancellationDueTask) error) {
	th.onUnpaidCancellationDue = handler
}

// HandleMessage routes one task message to the matching handler
func (th *TaskHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to unmarshal task envelope: %w", err)
	}

	th.logger.Info("Handling task",
		zap.String("type", base.EventType),
		zap.String("id", base.EventID))

	switch base.EventType {
	case models.TaskTypeSyncRequested:
		if th.onSyncRequested != nil {
			var task models.SyncRequestedTask
			if err := json.Unmarshal(msg.Value, &task); err != nil {
				return fmt.Errorf("failed to unmarshal sync task: %w", err)
			}
			return th.onSyncRequested(ctx, &task)
		}

	case models.TaskTypeUnpaidWarningDue:
		if th.onUnpaidWarningDue != nil {
			var task models.UnpaidWarningDueTask
			if err := json.Unmarshal(msg.Value, &task); err != nil {
				return fmt.Errorf("failed to unmarshal warning task: %w", err)
			}
			return th.onUnpaidWarningDue(ctx, &task)
		}

	case models.TaskTypeUnpaidCancellationDue:
		if th.onUnpaidCancellationDue != nil {
			var task models.UnpaidCancellationDueTask
			if err := json.Unmarshal(msg.Value, &task); err != nil {
				return fmt.Errorf("failed to unmarshal cancellation task: %w", err)
			}
			return th.onUnpaidCancellationDue(ctx, &task)
		}

	default:
		th.logger.Warn("Unhandled task type", zap.String("type", base.EventType))
	}

	return nil
}
