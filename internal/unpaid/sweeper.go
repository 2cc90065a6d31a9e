package unpaid

import (
	"context"
	"fmt"
	"time"

	"flowoms/internal/broker"
	"flowoms/internal/models"
	"flowoms/internal/store"
	"flowoms/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sweeper finds unpaid orders past their tenant thresholds and enqueues the
// matching warning/cancellation tasks. The store query excludes orders that
// already have a notification row of the same kind, so a sweep never
// re-enqueues work that was already attempted.
type Sweeper struct {
	store  *store.Store
	queue  *broker.TaskQueue
	logger *zap.Logger
}

// NewSweeper creates an unpaid-order sweeper
func NewSweeper(st *store.Store, queue *broker.TaskQueue) *Sweeper {
	return &Sweeper{
		store:  st,
		queue:  queue,
		logger: util.GetLogger(),
	}
}

// RunOnce sweeps all tenants. Per-tenant failures are logged and do not stop
// the remaining tenants.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) error {
	ctx, span := util.StartSpan(ctx, "UnpaidSweeper.RunOnce")
	defer span.End()

	tenants, err := s.store.ListTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	var failed int
	for _, tenantID := range tenants {
		if err := s.sweepTenant(ctx, tenantID, now); err != nil {
			failed++
			s.logger.Error("Unpaid sweep failed for tenant",
				zap.Int64("tenant_id", tenantID),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("unpaid sweep failed for %d of %d tenants", failed, len(tenants))
	}
	return nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenantID int64, now time.Time) error {
	warningHours, err := s.store.GetSettingInt(ctx, tenantID, settingGroup, "warning_hours", DefaultWarningHours)
	if err != nil {
		return fmt.Errorf("failed to read unpaid thresholds: %w", err)
	}
	cancellationHours, err := s.store.GetSettingInt(ctx, tenantID, settingGroup, "cancellation_hours", DefaultCancellationHours)
	if err != nil {
		return fmt.Errorf("failed to read unpaid thresholds: %w", err)
	}

	warnDue, err := s.store.UnpaidOrdersPastThreshold(ctx, tenantID,
		models.NotificationKindWarning, now.Add(-time.Duration(warningHours)*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to query warning candidates: %w", err)
	}
	for i := range warnDue {
		task := &models.UnpaidWarningDueTask{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.TaskTypeUnpaidWarningDue,
				TenantID:  tenantID,
				Timestamp: now,
			},
			OrderID: warnDue[i].ID,
		}
		if err := s.queue.Enqueue(ctx, broker.OrderKey(warnDue[i].ID), task); err != nil {
			return fmt.Errorf("failed to enqueue warning task for order %d: %w", warnDue[i].ID, err)
		}
	}

	cancelDue, err := s.store.UnpaidOrdersPastThreshold(ctx, tenantID,
		models.NotificationKindCancellation, now.Add(-time.Duration(cancellationHours)*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to query cancellation candidates: %w", err)
	}
	for i := range cancelDue {
		task := &models.UnpaidCancellationDueTask{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.TaskTypeUnpaidCancellationDue,
				TenantID:  tenantID,
				Timestamp: now,
			},
			OrderID: cancelDue[i].ID,
		}
		if err := s.queue.Enqueue(ctx, broker.OrderKey(cancelDue[i].ID), task); err != nil {
			return fmt.Errorf("failed to enqueue cancellation task for order %d: %w", cancelDue[i].ID, err)
		}
	}

	if len(warnDue) > 0 || len(cancelDue) > 0 {
		s.logger.Info("Unpaid sweep enqueued tasks",
			zap.Int64("tenant_id", tenantID),
			zap.Int("warnings", len(warnDue)),
			zap.Int("cancellations", len(cancelDue)))
	}
	return nil
}
