package unpaid

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowoms/internal/broker"
	"flowoms/internal/models"
	"flowoms/internal/notify"
	"flowoms/internal/store"
	"flowoms/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	settingGroup = "unpaid"

	DefaultWarningHours      = 24
	DefaultCancellationHours = 48
)

// Notifier delivers one webhook payload. The notification client's retry
// and circuit-breaker behavior sits behind this interface.
type Notifier interface {
	Send(ctx context.Context, endpoint string, payload interface{}, kind string) *notify.Result
}

// WarningJob sends the unpaid-order warning for one order. Every send
// attempt is logged as its own notification row, success or not; a failed
// send is re-raised so the task queue's retry policy gets another shot on
// top of the client's own retries.
type WarningJob struct {
	store    *store.Store
	notifier Notifier
	sink     broker.SignalSink
	logger   *zap.Logger
}

// NewWarningJob creates a warning job
func NewWarningJob(st *store.Store, notifier Notifier, sink broker.SignalSink) *WarningJob {
	return &WarningJob{
		store:    st,
		notifier: notifier,
		sink:     sink,
		logger:   util.GetLogger(),
	}
}

// Run sends the warning for one order.
func (j *WarningJob) Run(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "UnpaidWarningJob.Run")
	defer span.End()

	order, err := j.store.GetOrderByID(ctx, j.store.DB(), orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if order == nil {
		j.logger.Warn("Warning job for unknown order", zap.Int64("order_id", orderID))
		return nil
	}
	if order.PaymentStatus != models.PaymentStatusPending || order.Status == models.OrderStatusCanceled {
		j.logger.Info("Order no longer unpaid, skipping warning",
			zap.Int64("order_id", orderID),
			zap.String("payment_status", order.PaymentStatus))
		return nil
	}

	warningHours, err := j.store.GetSettingInt(ctx, order.TenantID, settingGroup, "warning_hours", DefaultWarningHours)
	if err != nil {
		return fmt.Errorf("failed to read warning settings: %w", err)
	}
	cancellationHours, err := j.store.GetSettingInt(ctx, order.TenantID, settingGroup, "cancellation_hours", DefaultCancellationHours)
	if err != nil {
		return fmt.Errorf("failed to read warning settings: %w", err)
	}
	endpoint, err := j.store.GetSetting(ctx, order.TenantID, settingGroup, "webhook_url", "")
	if err != nil {
		return fmt.Errorf("failed to read warning settings: %w", err)
	}
	if endpoint == "" {
		j.logger.Info("No webhook endpoint configured, skipping warning",
			zap.Int64("tenant_id", order.TenantID))
		return nil
	}

	items, err := j.store.GetOrderItems(ctx, j.store.DB(), order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	now := time.Now()
	payload := BuildWarningPayload(order, items, now, warningHours, cancellationHours)
	result := j.notifier.Send(ctx, endpoint, payload, models.NotificationKindWarning)

	// the log row is written regardless of the outcome
	if err := j.recordAttempt(ctx, order, endpoint, payload, result); err != nil {
		return err
	}

	j.emitWarningTriggered(ctx, order, payload, result)

	if !result.Success {
		return fmt.Errorf("warning notification for order %d failed: %s", order.ID, result.Error)
	}

	util.UnpaidWarningsTotal.Inc()
	j.logger.Info("Unpaid-order warning sent",
		zap.Int64("order_id", order.ID),
		zap.String("increment_id", order.IncrementID))
	return nil
}

func (j *WarningJob) recordAttempt(ctx context.Context, order *models.Order, endpoint string, payload *WebhookPayload, result *notify.Result) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}

	row := &models.UnpaidOrderNotification{
		TenantID:       order.TenantID,
		OrderID:        order.ID,
		Kind:           models.NotificationKindWarning,
		Endpoint:       endpoint,
		RequestPayload: raw,
		ResponseBody:   result.Body,
		ErrorMessage:   result.Error,
		RetryCount:     result.RetryCount,
		Success:        result.Success,
	}
	if result.StatusCode != 0 {
		status := result.StatusCode
		row.ResponseStatus = &status
	}

	if err := j.store.InsertUnpaidNotification(ctx, j.store.DB(), row); err != nil {
		return fmt.Errorf("failed to record warning attempt: %w", err)
	}
	return nil
}

func (j *WarningJob) emitWarningTriggered(ctx context.Context, order *models.Order, payload *WebhookPayload, result *notify.Result) {
	event := &models.UnpaidWarningTriggeredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeUnpaidWarningTriggered,
			TenantID:  order.TenantID,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		IncrementID:    order.IncrementID,
		HoursUnpaid:    payload.Warning.HoursUnpaid,
		HoursRemaining: payload.Warning.HoursRemaining,
		Delivered:      result.Success,
	}
	if err := j.sink.Emit(ctx, broker.OrderKey(order.ID), event); err != nil {
		j.logger.Error("Failed to emit UnpaidWarningTriggered",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
