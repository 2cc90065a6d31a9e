package sla

import (
	"context"
	"fmt"
	"time"

	"flowoms/internal/broker"
	"flowoms/internal/models"
	"flowoms/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the slice of the persistence layer the monitor sweeps over.
type OrderStore interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
	ImminentBreachOrders(ctx context.Context, tenantID int64, now, until time.Time) ([]models.Order, error)
	BreachCandidates(ctx context.Context, tenantID int64, now time.Time) ([]models.Order, error)
	MarkSLABreached(ctx context.Context, orderID int64) (bool, error)
	GetSettingInt(ctx context.Context, tenantID int64, group, key string, defaultVal int) (int, error)
}

// MarkerStore sets short-lived dedupe markers. Best effort: a marker failure
// never suppresses a signal.
type MarkerStore interface {
	SetMarker(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Monitor sweeps all tenants for imminent and occurred SLA breaches.
//
// The breached flag flips exactly once: MarkSLABreached is conditional on
// sla_breached = false, so racing monitor runs cannot double-emit the
// Breached signal. Imminent warnings have no such column guard; a Redis
// marker suppresses repeats within the warning window, and on marker errors
// the signal is emitted anyway (at-least-once).
type Monitor struct {
	store   OrderStore
	markers MarkerStore
	sink    broker.SignalSink
	logger  *zap.Logger
}

// NewMonitor creates an SLA monitor
func NewMonitor(store OrderStore, markers MarkerStore, sink broker.SignalSink) *Monitor {
	return &Monitor{
		store:   store,
		markers: markers,
		sink:    sink,
		logger:  util.GetLogger(),
	}
}

// RunOnce executes one sweep across all tenants. Per-tenant failures are
// logged and do not stop the remaining tenants.
func (m *Monitor) RunOnce(ctx context.Context, now time.Time) error {
	ctx, span := util.StartSpan(ctx, "SLAMonitor.RunOnce")
	defer span.End()

	tenants, err := m.store.ListTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	var failed int
	for _, tenantID := range tenants {
		if err := m.runTenant(ctx, tenantID, now); err != nil {
			failed++
			m.logger.Error("SLA sweep failed for tenant",
				zap.Int64("tenant_id", tenantID),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("SLA sweep failed for %d of %d tenants", failed, len(tenants))
	}
	return nil
}

func (m *Monitor) runTenant(ctx context.Context, tenantID int64, now time.Time) error {
	warningHours, err := m.store.GetSettingInt(ctx, tenantID, settingGroup, "warning_hours", DefaultWarningHours)
	if err != nil {
		return fmt.Errorf("failed to read warning window: %w", err)
	}
	window := time.Duration(warningHours) * time.Hour

	imminent, err := m.store.ImminentBreachOrders(ctx, tenantID, now, now.Add(window))
	if err != nil {
		return fmt.Errorf("failed to query imminent breaches: %w", err)
	}
	for i := range imminent {
		m.warnImminent(ctx, &imminent[i], now, window)
	}

	breached, err := m.store.BreachCandidates(ctx, tenantID, now)
	if err != nil {
		return fmt.Errorf("failed to query breach candidates: %w", err)
	}
	for i := range breached {
		if err := m.markBreached(ctx, &breached[i], now); err != nil {
			return err
		}
	}

	return nil
}

func (m *Monitor) warnImminent(ctx context.Context, order *models.Order, now time.Time, window time.Duration) {
	fresh, err := m.markers.SetMarker(ctx, fmt.Sprintf("sla:warned:%d", order.ID), window)
	if err != nil {
		m.logger.Warn("Imminent-breach dedupe marker unavailable, emitting anyway",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	} else if !fresh {
		return
	}

	event := &models.SLABreachImminentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSLABreachImminent,
			TenantID:  order.TenantID,
			Timestamp: now,
		},
		OrderID:     order.ID,
		IncrementID: order.IncrementID,
	}
	if order.SLADeadline != nil {
		event.SLADeadline = *order.SLADeadline
		event.HoursRemaining = order.SLADeadline.Sub(now).Hours()
	}

	if err := m.sink.Emit(ctx, broker.OrderKey(order.ID), event); err != nil {
		m.logger.Error("Failed to emit SLABreachImminent",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}
	util.SLAImminentSignalsTotal.Inc()
}

func (m *Monitor) markBreached(ctx context.Context, order *models.Order, now time.Time) error {
	flipped, err := m.store.MarkSLABreached(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to mark order %d breached: %w", order.ID, err)
	}
	if !flipped {
		// another run got there first
		return nil
	}

	event := &models.SLABreachedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSLABreached,
			TenantID:  order.TenantID,
			Timestamp: now,
		},
		OrderID:     order.ID,
		IncrementID: order.IncrementID,
	}
	if order.SLADeadline != nil {
		event.SLADeadline = *order.SLADeadline
	}
	if err := m.sink.Emit(ctx, broker.OrderKey(order.ID), event); err != nil {
		m.logger.Error("Failed to emit SLABreached",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
	util.SLABreachedTotal.Inc()

	m.logger.Warn("Order breached its SLA deadline",
		zap.Int64("order_id", order.ID),
		zap.String("increment_id", order.IncrementID))
	return nil
}
