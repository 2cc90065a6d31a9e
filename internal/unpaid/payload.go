package unpaid

import (
	"time"

	"flowoms/internal/models"

	"github.com/shopspring/decimal"
)

// WebhookPayload is the JSON body posted to tenant webhook endpoints for
// warning and cancellation events. Exactly one of Warning/Cancellation is
// set, matching EventType.
type WebhookPayload struct {
	EventType    string             `json:"event_type"`
	Timestamp    time.Time          `json:"timestamp"`
	Tenant       TenantBlock        `json:"tenant"`
	Order        OrderBlock         `json:"order"`
	Customer     CustomerBlock      `json:"customer"`
	Items        []ItemBlock        `json:"items"`
	Warning      *WarningBlock      `json:"warning,omitempty"`
	Cancellation *CancellationBlock `json:"cancellation,omitempty"`
}

type TenantBlock struct {
	ID int64 `json:"id"`
}

type OrderBlock struct {
	ID            int64           `json:"id"`
	IncrementID   string          `json:"increment_id"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Currency      string          `json:"currency"`
	OrderedAt     *time.Time      `json:"ordered_at,omitempty"`
}

type CustomerBlock struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ItemBlock struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Qty      float64         `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	RowTotal decimal.Decimal `json:"row_total"`
}

// WarningBlock carries the thresholds behind an unpaid-order warning.
type WarningBlock struct {
	ThresholdHours int     `json:"threshold_hours"`
	HoursUnpaid    float64 `json:"hours_unpaid"`
	HoursRemaining float64 `json:"hours_remaining"`
}

// CancellationBlock explains an automated cancellation.
type CancellationBlock struct {
	Reason         string `json:"reason"`
	ThresholdHours int    `json:"threshold_hours"`
}

// HoursUnpaid is the age of the order in hours, zero when ordered_at is
// unknown.
func HoursUnpaid(order *models.Order, now time.Time) float64 {
	if order.OrderedAt == nil {
		return 0
	}
	return now.Sub(*order.OrderedAt).Hours()
}

func baseBlocks(order *models.Order, items []models.OrderItem) (OrderBlock, CustomerBlock, []ItemBlock) {
	ob := OrderBlock{
		ID:            order.ID,
		IncrementID:   order.IncrementID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		GrandTotal:    order.GrandTotal,
		Currency:      order.Currency,
		OrderedAt:     order.OrderedAt,
	}
	cb := CustomerBlock{Name: order.CustomerName, Email: order.CustomerEmail}

	ibs := make([]ItemBlock, 0, len(items))
	for _, it := range items {
		ibs = append(ibs, ItemBlock{
			SKU:      it.SKU,
			Name:     it.Name,
			Qty:      it.QtyOrdered,
			Price:    it.Price,
			RowTotal: it.RowTotal,
		})
	}
	return ob, cb, ibs
}

// BuildWarningPayload assembles the unpaid-warning webhook body.
func BuildWarningPayload(order *models.Order, items []models.OrderItem, now time.Time, warningHours, cancellationHours int) *WebhookPayload {
	ob, cb, ibs := baseBlocks(order, items)

	unpaid := HoursUnpaid(order, now)
	remaining := float64(cancellationHours) - unpaid
	if remaining < 0 {
		remaining = 0
	}

	return &WebhookPayload{
		EventType: models.NotificationKindWarning,
		Timestamp: now,
		Tenant:    TenantBlock{ID: order.TenantID},
		Order:     ob,
		Customer:  cb,
		Items:     ibs,
		Warning: &WarningBlock{
			ThresholdHours: warningHours,
			HoursUnpaid:    unpaid,
			HoursRemaining: remaining,
		},
	}
}

// BuildCancellationPayload assembles the cancellation webhook body.
func BuildCancellationPayload(order *models.Order, items []models.OrderItem, now time.Time, cancellationHours int, reason string) *WebhookPayload {
	ob, cb, ibs := baseBlocks(order, items)
	// the payload reflects the state the consumer will observe
	ob.Status = models.OrderStatusCanceled
	ob.PaymentStatus = models.PaymentStatusFailed

	return &WebhookPayload{
		EventType: models.NotificationKindCancellation,
		Timestamp: now,
		Tenant:    TenantBlock{ID: order.TenantID},
		Order:     ob,
		Customer:  cb,
		Items:     ibs,
		Cancellation: &CancellationBlock{
			Reason:         reason,
			ThresholdHours: cancellationHours,
		},
	}
}
