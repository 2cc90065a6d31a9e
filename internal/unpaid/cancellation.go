package unpaid

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowoms/internal/broker"
	"flowoms/internal/magento"
	"flowoms/internal/models"
	"flowoms/internal/notify"
	"flowoms/internal/store"
	"flowoms/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const cancellationReason = "unpaid past cancellation threshold"

// OrderCanceler cancels an order on the external platform.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, orderID int64) (*magento.CancelResult, error)
}

// CancellationJob cancels one unpaid order remotely and locally in a single
// transaction. The remote cancel runs first: when it fails nothing is
// written, so the local status never diverges from Magento. The webhook and
// the notification log row happen after the commit; once Magento has
// accepted the cancel, no bookkeeping failure may undo the local status.
type CancellationJob struct {
	store    *store.Store
	canceler OrderCanceler
	notifier Notifier
	sink     broker.SignalSink
	logger   *zap.Logger
}

// NewCancellationJob creates a cancellation job
func NewCancellationJob(st *store.Store, canceler OrderCanceler, notifier Notifier, sink broker.SignalSink) *CancellationJob {
	return &CancellationJob{
		store:    st,
		canceler: canceler,
		notifier: notifier,
		sink:     sink,
		logger:   util.GetLogger(),
	}
}

// Run cancels one order.
func (j *CancellationJob) Run(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "UnpaidCancellationJob.Run")
	defer span.End()

	order, err := j.store.GetOrderByID(ctx, j.store.DB(), orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if order == nil {
		j.logger.Warn("Cancellation job for unknown order", zap.Int64("order_id", orderID))
		return nil
	}
	if order.Status == models.OrderStatusCanceled {
		j.logger.Info("Order already canceled, skipping",
			zap.Int64("order_id", orderID))
		return nil
	}
	if order.PaymentStatus != models.PaymentStatusPending {
		j.logger.Info("Order no longer unpaid, skipping cancellation",
			zap.Int64("order_id", orderID),
			zap.String("payment_status", order.PaymentStatus))
		return nil
	}

	cancellationHours, err := j.store.GetSettingInt(ctx, order.TenantID, settingGroup, "cancellation_hours", DefaultCancellationHours)
	if err != nil {
		return fmt.Errorf("failed to read cancellation settings: %w", err)
	}
	endpoint, err := j.store.GetSetting(ctx, order.TenantID, settingGroup, "webhook_url", "")
	if err != nil {
		return fmt.Errorf("failed to read cancellation settings: %w", err)
	}

	items, err := j.store.GetOrderItems(ctx, j.store.DB(), order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	var cancelResult *magento.CancelResult
	var webhookResult *notify.Result

	err = j.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		// remote cancel first; a failure here rolls everything back,
		// local status included
		res, err := j.canceler.CancelOrder(ctx, order.MagentoOrderID)
		if err != nil {
			return fmt.Errorf("remote cancel for order %d failed: %w", order.MagentoOrderID, err)
		}
		cancelResult = res

		if err := j.store.SetOrderCancelled(ctx, tx, order.ID); err != nil {
			return fmt.Errorf("failed to cancel order %d locally: %w", order.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// the cancellation is committed; webhook and log failures from here on
	// are logged, never raised
	if endpoint != "" {
		payload := BuildCancellationPayload(order, items, time.Now(), cancellationHours, cancellationReason)
		webhookResult = j.notifier.Send(ctx, endpoint, payload, models.NotificationKindCancellation)
		if !webhookResult.Success {
			j.logger.Warn("Cancellation webhook failed",
				zap.Int64("order_id", order.ID),
				zap.String("error", webhookResult.Error))
		}
		if err := j.recordAttempt(ctx, order, endpoint, payload, webhookResult); err != nil {
			j.logger.Error("Failed to record cancellation attempt",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	util.UnpaidCancellationsTotal.Inc()
	j.emitCancelled(ctx, order, cancelResult, webhookResult)

	j.logger.Info("Unpaid order canceled",
		zap.Int64("order_id", order.ID),
		zap.String("increment_id", order.IncrementID))
	return nil
}

func (j *CancellationJob) recordAttempt(ctx context.Context, order *models.Order, endpoint string, payload *WebhookPayload, result *notify.Result) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}

	row := &models.UnpaidOrderNotification{
		TenantID:       order.TenantID,
		OrderID:        order.ID,
		Kind:           models.NotificationKindCancellation,
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
		return fmt.Errorf("failed to record cancellation attempt: %w", err)
	}
	return nil
}

func (j *CancellationJob) emitCancelled(ctx context.Context, order *models.Order, cancelResult *magento.CancelResult, webhookResult *notify.Result) {
	event := &models.UnpaidOrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeUnpaidOrderCancelled,
			TenantID:  order.TenantID,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		IncrementID: order.IncrementID,
		GrandTotal:  order.GrandTotal,
	}
	if cancelResult != nil {
		event.RemoteCancelStatus = cancelResult.StatusCode
	}
	if webhookResult != nil {
		event.WebhookDelivered = webhookResult.Success
		event.WebhookStatus = webhookResult.StatusCode
	}
	if err := j.sink.Emit(ctx, broker.OrderKey(order.ID), event); err != nil {
		j.logger.Error("Failed to emit UnpaidOrderCancelled",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
