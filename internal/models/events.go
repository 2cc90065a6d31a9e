package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderSynced            = "ORDER_SYNCED"
	EventTypeOrderSyncFailed        = "ORDER_SYNC_FAILED"
	EventTypeSLABreachImminent      = "SLA_BREACH_IMMINENT"
	EventTypeSLABreached            = "SLA_BREACHED"
	EventTypeShipmentDelivered      = "SHIPMENT_DELIVERED"
	EventTypeUnpaidWarningTriggered = "UNPAID_ORDER_WARNING_TRIGGERED"
	EventTypeUnpaidOrderCancelled   = "UNPAID_ORDER_CANCELLED"
)

// Task types carried on the task topic
const (
	TaskTypeSyncRequested         = "SYNC_REQUESTED"
	TaskTypeUnpaidWarningDue      = "UNPAID_WARNING_DUE"
	TaskTypeUnpaidCancellationDue = "UNPAID_CANCELLATION_DUE"
)

// BaseEvent contains common fields for all signals and tasks
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	TenantID  int64     `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderSyncedEvent is emitted after one raw record is normalized
type OrderSyncedEvent struct {
	BaseEvent
	OrderID        int64  `json:"order_id"`
	MagentoOrderID int64  `json:"magento_order_id"`
	IncrementID    string `json:"increment_id"`
	SyncBatchID    string `json:"sync_batch_id"`
	InvoiceCount   int    `json:"invoice_count"`
	ShipmentCount  int    `json:"shipment_count"`
}

// OrderSyncFailedEvent is emitted when one order's normalization fails
type OrderSyncFailedEvent struct {
	BaseEvent
	MagentoOrderID int64  `json:"magento_order_id"`
	IncrementID    string `json:"increment_id"`
	SyncBatchID    string `json:"sync_batch_id"`
	Reason         string `json:"reason"`
}

// SLABreachImminentEvent is emitted when an unshipped order is inside the
// warning window before its deadline
type SLABreachImminentEvent struct {
	BaseEvent
	OrderID        int64     `json:"order_id"`
	IncrementID    string    `json:"increment_id"`
	SLADeadline    time.Time `json:"sla_deadline"`
	HoursRemaining float64   `json:"hours_remaining"`
}

// SLABreachedEvent is emitted exactly once when an order flips to breached
type SLABreachedEvent struct {
	BaseEvent
	OrderID     int64     `json:"order_id"`
	IncrementID string    `json:"increment_id"`
	SLADeadline time.Time `json:"sla_deadline"`
}

// ShipmentDeliveredEvent is emitted when a shipment reaches delivered state
type ShipmentDeliveredEvent struct {
	BaseEvent
	OrderID        int64      `json:"order_id"`
	ShipmentID     int64      `json:"shipment_id"`
	TrackingNumber string     `json:"tracking_number"`
	CarrierCode    string     `json:"carrier_code"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// UnpaidWarningTriggeredEvent is emitted after a warning notification attempt
type UnpaidWarningTriggeredEvent struct {
	BaseEvent
	OrderID        int64   `json:"order_id"`
	IncrementID    string  `json:"increment_id"`
	HoursUnpaid    float64 `json:"hours_unpaid"`
	HoursRemaining float64 `json:"hours_remaining"`
	Delivered      bool    `json:"delivered"`
}

// UnpaidOrderCancelledEvent is emitted after a completed cancellation,
// carrying both the remote-cancel outcome and the webhook outcome
type UnpaidOrderCancelledEvent struct {
	BaseEvent
	OrderID            int64           `json:"order_id"`
	IncrementID        string          `json:"increment_id"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
	RemoteCancelStatus int             `json:"remote_cancel_status"`
	WebhookDelivered   bool            `json:"webhook_delivered"`
	WebhookStatus      int             `json:"webhook_status,omitempty"`
}

// SyncRequestedTask asks a worker to run one sync batch
type SyncRequestedTask struct {
	BaseEvent
	StoreID  int64  `json:"store_id"`
	Days     int    `json:"days"`
	PageSize int    `json:"page_size"`
	Page     int    `json:"page,omitempty"`
	BatchID  string `json:"batch_id,omitempty"`
}

// UnpaidWarningDueTask asks a worker to send an unpaid warning for one order
type UnpaidWarningDueTask struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// UnpaidCancellationDueTask asks a worker to cancel one unpaid order
type UnpaidCancellationDueTask struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}
