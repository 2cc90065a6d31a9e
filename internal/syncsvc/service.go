package syncsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowoms/internal/broker"
	"flowoms/internal/magento"
	"flowoms/internal/models"
	"flowoms/internal/store"
	"flowoms/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DeadlineCalculator resolves an order's SLA shipping deadline
type DeadlineCalculator interface {
	CalculateDeadline(ctx context.Context, tenantID int64, orderedAt *time.Time, shippingMethod string) (*time.Time, error)
}

// Service normalizes raw sync records into Order aggregates.
type Service struct {
	store     *store.Store
	parser    *Parser
	deadlines DeadlineCalculator
	sink      broker.SignalSink
	logger    *zap.Logger
}

// NewService creates a new sync service
func NewService(st *store.Store, parser *Parser, deadlines DeadlineCalculator, sink broker.SignalSink) *Service {
	return &Service{
		store:     st,
		parser:    parser,
		deadlines: deadlines,
		sink:      sink,
		logger:    util.GetLogger(),
	}
}

// SyncOrder normalizes one raw record inside the caller's transaction scope.
// A failure anywhere is fatal for this order only and carries the order's
// identifiers for replay.
func (s *Service) SyncOrder(ctx context.Context, q sqlx.ExtContext, rec *models.RawOrderSync) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "SyncService.SyncOrder")
	defer span.End()

	var raw magento.Order
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		util.OrderSyncFailuresTotal.WithLabelValues("bad_payload").Inc()
		return nil, &SyncError{EntityID: rec.MagentoOrderID, IncrementID: rec.IncrementID,
			Err: fmt.Errorf("failed to decode raw payload: %w", err)}
	}

	// Parse every sub-resource before the first write so API fallback
	// fetches never happen mid-transaction.
	items := s.parser.ParseOrderItems(&raw)

	invoices, err := s.parser.ParseInvoices(ctx, &raw)
	if err != nil {
		util.OrderSyncFailuresTotal.WithLabelValues("invoices").Inc()
		return nil, &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID, Err: err}
	}

	shipments, err := s.parser.ParseShipments(ctx, &raw)
	if err != nil {
		util.OrderSyncFailuresTotal.WithLabelValues("shipments").Inc()
		return nil, &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID, Err: err}
	}

	order := s.buildOrder(ctx, rec.TenantID, rec.StoreID, &raw)
	if order.ShippedAt == nil {
		order.ShippedAt = firstShippedAt(shipments)
	}

	if err := s.store.UpsertOrder(ctx, q, order); err != nil {
		util.OrderSyncFailuresTotal.WithLabelValues("order_upsert").Inc()
		return nil, &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID,
			Err: fmt.Errorf("failed to upsert order: %w", err)}
	}

	if err := s.upsertItems(ctx, q, order, items, raw.IncrementID); err != nil {
		return nil, err
	}

	for i := range invoices {
		inv := &invoices[i]
		inv.Invoice.OrderID = order.ID
		if err := s.store.UpsertInvoice(ctx, q, &inv.Invoice); err != nil {
			util.OrderSyncFailuresTotal.WithLabelValues("invoice_upsert").Inc()
			return nil, &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID,
				Err: fmt.Errorf("failed to upsert invoice %d: %w", inv.Invoice.MagentoInvoiceID, err)}
		}
		for j := range inv.Items {
			inv.Items[j].InvoiceID = inv.Invoice.ID
			if err := s.store.UpsertInvoiceItem(ctx, q, &inv.Items[j]); err != nil {
				util.OrderSyncFailuresTotal.WithLabelValues("invoice_item_upsert").Inc()
				return nil, &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID,
					Err: fmt.Errorf("failed to upsert invoice item %s: %w", inv.Items[j].SKU, err)}
			}
		}
	}

	for i := range shipments {
		sh := &shipments[i]
		sh.OrderID = order.ID
		sh.Normalize()

		// the store reports the delivered transition so re-synced
		// delivered shipments never signal twice
		delivered, err := s.store.UpsertShipment(ctx, q, sh)
		if err != nil {
			util.OrderSyncFailuresTotal.WithLabelValues("shipment_upsert").Inc()
			return nil, &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID,
				Err: fmt.Errorf("failed to upsert shipment %d: %w", sh.MagentoShipmentID, err)}
		}
		if delivered {
			s.emitShipmentDelivered(ctx, rec.TenantID, order, sh)
		}
	}

	util.OrdersSyncedTotal.Inc()
	s.emitOrderSynced(ctx, rec, order, len(invoices), len(shipments))

	return order, nil
}

// SyncOrders normalizes records in order, stopping at the first failure.
func (s *Service) SyncOrders(ctx context.Context, q sqlx.ExtContext, recs []*models.RawOrderSync) ([]*models.Order, error) {
	orders := make([]*models.Order, 0, len(recs))
	for _, rec := range recs {
		order, err := s.SyncOrder(ctx, q, rec)
		if err != nil {
			return orders, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// buildOrder maps a raw Magento order onto the normalized entity. The SLA
// deadline is computed here but only takes effect at creation: the upsert
// never overwrites a stored deadline.
func (s *Service) buildOrder(ctx context.Context, tenantID, storeID int64, raw *magento.Order) *models.Order {
	orderedAt, err := magento.ParseTime(raw.CreatedAt)
	if err != nil {
		s.logger.Warn("Malformed order timestamp, storing null",
			zap.String("increment_id", raw.IncrementID),
			zap.String("created_at", raw.CreatedAt))
	}

	order := &models.Order{
		TenantID:       tenantID,
		StoreID:        storeID,
		MagentoOrderID: raw.EntityID,
		IncrementID:    raw.IncrementID,
		Status:         mapOrderStatus(raw.Status),
		GrandTotal:     raw.GrandTotal,
		Subtotal:       raw.Subtotal,
		TaxAmount:      raw.TaxAmount,
		ShippingAmount: raw.ShippingAmount,
		DiscountAmount: raw.DiscountAmount,
		Currency:       raw.OrderCurrencyCode,
		CustomerName:   raw.CustomerName(),
		CustomerEmail:  raw.CustomerEmail,
		ShippingMethod: raw.ShippingDescription,
		OrderedAt:      orderedAt,
	}
	order.PaymentStatus = mapPaymentStatus(raw, order.Status)

	if orderedAt != nil {
		deadline, err := s.deadlines.CalculateDeadline(ctx, tenantID, orderedAt, order.ShippingMethod)
		if err != nil {
			s.logger.Warn("Failed to calculate SLA deadline",
				zap.String("increment_id", raw.IncrementID),
				zap.Error(err))
		} else {
			order.SLADeadline = deadline
		}
	}

	return order
}

func (s *Service) upsertItems(ctx context.Context, q sqlx.ExtContext, order *models.Order, items []ItemRecord, incrementID string) error {
	// Magento item ids are external and unordered in the payload, so
	// parents are written first and children resolve against the ids they
	// were assigned.
	idByMagento := make(map[int64]int64, len(items))

	for i := range items {
		if items[i].MagentoParentID != nil {
			continue
		}
		items[i].Item.OrderID = order.ID
		if err := s.store.UpsertOrderItem(ctx, q, &items[i].Item); err != nil {
			util.OrderSyncFailuresTotal.WithLabelValues("item_upsert").Inc()
			return &SyncError{EntityID: order.MagentoOrderID, IncrementID: incrementID,
				Err: fmt.Errorf("failed to upsert item %s: %w", items[i].Item.SKU, err)}
		}
		idByMagento[items[i].Item.MagentoItemID] = items[i].Item.ID
	}

	for i := range items {
		if items[i].MagentoParentID == nil {
			continue
		}
		items[i].Item.OrderID = order.ID
		if parentID, ok := idByMagento[*items[i].MagentoParentID]; ok {
			items[i].Item.ParentItemID = &parentID
		} else {
			s.logger.Warn("Order item references unknown parent",
				zap.String("increment_id", incrementID),
				zap.Int64("magento_item_id", items[i].Item.MagentoItemID),
				zap.Int64("magento_parent_id", *items[i].MagentoParentID))
		}
		if err := s.store.UpsertOrderItem(ctx, q, &items[i].Item); err != nil {
			util.OrderSyncFailuresTotal.WithLabelValues("item_upsert").Inc()
			return &SyncError{EntityID: order.MagentoOrderID, IncrementID: incrementID,
				Err: fmt.Errorf("failed to upsert item %s: %w", items[i].Item.SKU, err)}
		}
	}

	return nil
}

func (s *Service) emitOrderSynced(ctx context.Context, rec *models.RawOrderSync, order *models.Order, invoiceCount, shipmentCount int) {
	event := &models.OrderSyncedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderSynced,
			TenantID:  rec.TenantID,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		MagentoOrderID: order.MagentoOrderID,
		IncrementID:    order.IncrementID,
		SyncBatchID:    rec.SyncBatchID,
		InvoiceCount:   invoiceCount,
		ShipmentCount:  shipmentCount,
	}
	if err := s.sink.Emit(ctx, broker.OrderKey(order.ID), event); err != nil {
		s.logger.Error("Failed to emit OrderSynced", zap.Error(err))
	}
}

func (s *Service) emitShipmentDelivered(ctx context.Context, tenantID int64, order *models.Order, sh *models.Shipment) {
	event := &models.ShipmentDeliveredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeShipmentDelivered,
			TenantID:  tenantID,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		ShipmentID:     sh.ID,
		TrackingNumber: sh.TrackingNumber,
		CarrierCode:    sh.CarrierCode,
		DeliveredAt:    sh.ActualDeliveryAt,
	}
	if err := s.sink.Emit(ctx, broker.OrderKey(order.ID), event); err != nil {
		s.logger.Error("Failed to emit ShipmentDelivered", zap.Error(err))
	}
}

func mapOrderStatus(magentoStatus string) string {
	switch magentoStatus {
	case "canceled":
		return models.OrderStatusCanceled
	case "complete":
		return models.OrderStatusComplete
	case "processing":
		return models.OrderStatusProcessing
	default:
		return models.OrderStatusPending
	}
}

func mapPaymentStatus(raw *magento.Order, status string) string {
	if status == models.OrderStatusCanceled {
		return models.PaymentStatusFailed
	}
	if raw.GrandTotal.IsPositive() && raw.TotalInvoiced.GreaterThanOrEqual(raw.GrandTotal) {
		return models.PaymentStatusPaid
	}
	return models.PaymentStatusPending
}

func firstShippedAt(shipments []models.Shipment) *time.Time {
	var first *time.Time
	for i := range shipments {
		if shipments[i].ShippedAt == nil {
			continue
		}
		if first == nil || shipments[i].ShippedAt.Before(*first) {
			first = shipments[i].ShippedAt
		}
	}
	return first
}
