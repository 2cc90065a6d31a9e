package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// RawOrderSync is one staged snapshot of a Magento order payload, keyed by
// (tenant, store, magento order id). The payload is immutable once written;
// later syncs only refresh status flags and the batch cursor.
type RawOrderSync struct {
	ID             int64          `db:"id" json:"id"`
	TenantID       int64          `db:"tenant_id" json:"tenant_id"`
	StoreID        int64          `db:"store_id" json:"store_id"`
	MagentoOrderID int64          `db:"magento_order_id" json:"magento_order_id"`
	IncrementID    string         `db:"increment_id" json:"increment_id"`
	Payload        types.JSONText `db:"payload" json:"payload"`
	MagentoStatus  string         `db:"magento_status" json:"magento_status"`
	HasInvoice     bool           `db:"has_invoice" json:"has_invoice"`
	HasShipment    bool           `db:"has_shipment" json:"has_shipment"`
	SyncBatchID    string         `db:"sync_batch_id" json:"sync_batch_id"`
	SyncPage       int            `db:"sync_page" json:"sync_page"`
	SyncedAt       time.Time      `db:"synced_at" json:"synced_at"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Order is the normalized order entity, unique on (tenant_id, magento_order_id).
type Order struct {
	ID             int64           `db:"id" json:"id"`
	TenantID       int64           `db:"tenant_id" json:"tenant_id"`
	StoreID        int64           `db:"store_id" json:"store_id"`
	MagentoOrderID int64           `db:"magento_order_id" json:"magento_order_id"`
	IncrementID    string          `db:"increment_id" json:"increment_id"`
	Status         string          `db:"status" json:"status"`
	PaymentStatus  string          `db:"payment_status" json:"payment_status"`
	GrandTotal     decimal.Decimal `db:"grand_total" json:"grand_total"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	ShippingAmount decimal.Decimal `db:"shipping_amount" json:"shipping_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	Currency       string          `db:"currency" json:"currency"`
	CustomerName   string          `db:"customer_name" json:"customer_name"`
	CustomerEmail  string          `db:"customer_email" json:"customer_email"`
	ShippingMethod string          `db:"shipping_method" json:"shipping_method"`
	OrderedAt      *time.Time      `db:"ordered_at" json:"ordered_at,omitempty"`
	ShippedAt      *time.Time      `db:"shipped_at" json:"shipped_at,omitempty"`
	SLADeadline    *time.Time      `db:"sla_deadline" json:"sla_deadline,omitempty"`
	SLABreached    bool            `db:"sla_breached" json:"sla_breached"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem models the product hierarchy of an order. ParentItemID is the
// internal id of the parent row for bundle/configurable children.
type OrderItem struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	MagentoItemID int64           `db:"magento_item_id" json:"magento_item_id"`
	ParentItemID  *int64          `db:"parent_item_id" json:"parent_item_id,omitempty"`
	SKU           string          `db:"sku" json:"sku"`
	Name          string          `db:"name" json:"name"`
	ProductType   string          `db:"product_type" json:"product_type"`
	QtyOrdered    float64         `db:"qty_ordered" json:"qty_ordered"`
	QtyShipped    float64         `db:"qty_shipped" json:"qty_shipped"`
	QtyCanceled   float64         `db:"qty_canceled" json:"qty_canceled"`
	Price         decimal.Decimal `db:"price" json:"price"`
	RowTotal      decimal.Decimal `db:"row_total" json:"row_total"`
	TaxAmount     decimal.Decimal `db:"tax_amount" json:"tax_amount"`
}

// Invoice is a child of Order, unique on (order_id, magento_invoice_id).
type Invoice struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	MagentoInvoiceID int64           `db:"magento_invoice_id" json:"magento_invoice_id"`
	State            string          `db:"state" json:"state"`
	GrandTotal       decimal.Decimal `db:"grand_total" json:"grand_total"`
	CustomerName     string          `db:"customer_name" json:"customer_name"`
	InvoicedAt       *time.Time      `db:"invoiced_at" json:"invoiced_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type InvoiceItem struct {
	ID        int64           `db:"id" json:"id"`
	InvoiceID int64           `db:"invoice_id" json:"invoice_id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Qty       float64         `db:"qty" json:"qty"`
	Price     decimal.Decimal `db:"price" json:"price"`
	RowTotal  decimal.Decimal `db:"row_total" json:"row_total"`
}

// Shipment is a child of Order, unique on (order_id, magento_shipment_id).
// Only the first tracking entry of a Magento shipment is kept.
type Shipment struct {
	ID                  int64      `db:"id" json:"id"`
	OrderID             int64      `db:"order_id" json:"order_id"`
	MagentoShipmentID   int64      `db:"magento_shipment_id" json:"magento_shipment_id"`
	TrackingNumber      string     `db:"tracking_number" json:"tracking_number"`
	CarrierCode         string     `db:"carrier_code" json:"carrier_code"`
	Status              string     `db:"status" json:"status"`
	EstimatedDeliveryAt *time.Time `db:"estimated_delivery_at" json:"estimated_delivery_at,omitempty"`
	ActualDeliveryAt    *time.Time `db:"actual_delivery_at" json:"actual_delivery_at,omitempty"`
	SignedBy            string     `db:"signed_by" json:"signed_by,omitempty"`
	DeliveryNotes       string     `db:"delivery_notes" json:"delivery_notes,omitempty"`
	ProofPhotoURL       string     `db:"proof_photo_url" json:"proof_photo_url,omitempty"`
	ShippedAt           *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Normalize enforces the delivery invariant: a recorded actual delivery time
// implies delivered status.
func (s *Shipment) Normalize() {
	if s.ActualDeliveryAt != nil {
		s.Status = ShipmentStatusDelivered
	}
}

// UnpaidOrderNotification is an append-only log row, one per send attempt.
type UnpaidOrderNotification struct {
	ID             int64          `db:"id" json:"id"`
	TenantID       int64          `db:"tenant_id" json:"tenant_id"`
	OrderID        int64          `db:"order_id" json:"order_id"`
	Kind           string         `db:"kind" json:"kind"`
	Endpoint       string         `db:"endpoint" json:"endpoint"`
	RequestPayload types.JSONText `db:"request_payload" json:"request_payload"`
	ResponseStatus *int           `db:"response_status" json:"response_status,omitempty"`
	ResponseBody   string         `db:"response_body" json:"response_body,omitempty"`
	ErrorMessage   string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount     int            `db:"retry_count" json:"retry_count"`
	Success        bool           `db:"success" json:"success"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// TenantSetting is one per-tenant configuration value, unique on
// (tenant_id, setting_group, setting_key).
type TenantSetting struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  int64     `db:"tenant_id" json:"tenant_id"`
	Group     string    `db:"setting_group" json:"setting_group"`
	Key       string    `db:"setting_key" json:"setting_key"`
	Value     string    `db:"setting_value" json:"setting_value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StoreRef identifies one syncable Magento store of a tenant.
type StoreRef struct {
	TenantID int64 `db:"tenant_id" json:"tenant_id"`
	StoreID  int64 `db:"store_id" json:"store_id"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusComplete   = "complete"
	OrderStatusCanceled   = "canceled"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Invoice states
const (
	InvoiceStateOpen     = "open"
	InvoiceStatePaid     = "paid"
	InvoiceStateCanceled = "canceled"
)

// Magento invoice state codes
const (
	MagentoInvoiceStateOpen     = 1
	MagentoInvoiceStatePaid     = 2
	MagentoInvoiceStateCanceled = 3
)

// InvoiceStateFromMagento maps a Magento numeric invoice state to the local
// state, defaulting to open for unknown codes.
func InvoiceStateFromMagento(code int) string {
	switch code {
	case MagentoInvoiceStatePaid:
		return InvoiceStatePaid
	case MagentoInvoiceStateCanceled:
		return InvoiceStateCanceled
	default:
		return InvoiceStateOpen
	}
}

// Shipment statuses
const (
	ShipmentStatusPending        = "pending"
	ShipmentStatusInfoReceived   = "info_received"
	ShipmentStatusInTransit      = "in_transit"
	ShipmentStatusOutForDelivery = "out_for_delivery"
	ShipmentStatusDelivered      = "delivered"
	ShipmentStatusFailedAttempt  = "failed_attempt"
	ShipmentStatusException      = "exception"
	ShipmentStatusExpired        = "expired"
	ShipmentStatusUnknown        = "unknown"
)

// IsTerminalShipmentStatus reports whether a shipment status can no longer
// change.
func IsTerminalShipmentStatus(status string) bool {
	switch status {
	case ShipmentStatusDelivered, ShipmentStatusException, ShipmentStatusExpired:
		return true
	default:
		return false
	}
}

// Notification kinds
const (
	NotificationKindWarning      = "warning"
	NotificationKindCancellation = "cancellation"
)
