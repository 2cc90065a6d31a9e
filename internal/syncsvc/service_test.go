package syncsvc

import (
	"context"
	"testing"
	"time"

	"flowoms/internal/magento"
	"flowoms/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCalculator struct {
	calls    int
	deadline *time.Time
	err      error
}

func (f *fakeCalculator) CalculateDeadline(ctx context.Context, tenantID int64, orderedAt *time.Time, shippingMethod string) (*time.Time, error) {
	f.calls++
	return f.deadline, f.err
}

func TestMapOrderStatus(t *testing.T) {
	assert.Equal(t, models.OrderStatusCanceled, mapOrderStatus("canceled"))
	assert.Equal(t, models.OrderStatusComplete, mapOrderStatus("complete"))
	assert.Equal(t, models.OrderStatusProcessing, mapOrderStatus("processing"))
	assert.Equal(t, models.OrderStatusPending, mapOrderStatus("pending"))
	assert.Equal(t, models.OrderStatusPending, mapOrderStatus("holded"))
	assert.Equal(t, models.OrderStatusPending, mapOrderStatus(""))
}

func TestMapPaymentStatus(t *testing.T) {
	paid := &magento.Order{
		GrandTotal:    decimal.NewFromFloat(120.00),
		TotalInvoiced: decimal.NewFromFloat(120.00),
	}
	assert.Equal(t, models.PaymentStatusPaid, mapPaymentStatus(paid, models.OrderStatusProcessing))

	partial := &magento.Order{
		GrandTotal:    decimal.NewFromFloat(120.00),
		TotalInvoiced: decimal.NewFromFloat(60.00),
	}
	assert.Equal(t, models.PaymentStatusPending, mapPaymentStatus(partial, models.OrderStatusProcessing))

	// a free order is never "paid" off an empty invoiced total
	free := &magento.Order{}
	assert.Equal(t, models.PaymentStatusPending, mapPaymentStatus(free, models.OrderStatusPending))

	// cancellation wins over the invoiced totals
	assert.Equal(t, models.PaymentStatusFailed, mapPaymentStatus(paid, models.OrderStatusCanceled))
}

func TestBuildOrderMapsFieldsAndDeadline(t *testing.T) {
	deadline := time.Date(2024, 3, 3, 17, 0, 0, 0, time.UTC)
	calc := &fakeCalculator{deadline: &deadline}
	svc := NewService(nil, NewParser(&fakeInvoiceFetcher{}, &fakeShipmentFetcher{}), calc, nil)

	raw := &magento.Order{
		EntityID:            500,
		IncrementID:         "000000500",
		Status:              "processing",
		CreatedAt:           "2024-03-01 10:00:00",
		GrandTotal:          decimal.NewFromFloat(120.00),
		TotalInvoiced:       decimal.NewFromFloat(120.00),
		OrderCurrencyCode:   "USD",
		CustomerFirstname:   "Ada",
		CustomerLastname:    "Lovelace",
		CustomerEmail:       "ada@example.com",
		ShippingDescription: "Flat Rate - Express",
	}

	order := svc.buildOrder(context.Background(), 7, 3, raw)

	assert.Equal(t, int64(7), order.TenantID)
	assert.Equal(t, int64(3), order.StoreID)
	assert.Equal(t, int64(500), order.MagentoOrderID)
	assert.Equal(t, "000000500", order.IncrementID)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "Ada Lovelace", order.CustomerName)
	assert.Equal(t, "Flat Rate - Express", order.ShippingMethod)
	require.NotNil(t, order.OrderedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), *order.OrderedAt)
	assert.Equal(t, 1, calc.calls)
	require.NotNil(t, order.SLADeadline)
	assert.Equal(t, deadline, *order.SLADeadline)
}

func TestBuildOrderMalformedTimestampSkipsDeadline(t *testing.T) {
	calc := &fakeCalculator{}
	svc := NewService(nil, NewParser(&fakeInvoiceFetcher{}, &fakeShipmentFetcher{}), calc, nil)

	order := svc.buildOrder(context.Background(), 7, 3, &magento.Order{
		EntityID:    501,
		IncrementID: "000000501",
		CreatedAt:   "not a timestamp",
	})

	assert.Nil(t, order.OrderedAt)
	assert.Nil(t, order.SLADeadline)
	assert.Zero(t, calc.calls, "no deadline calculation without an order timestamp")
}

func TestBuildOrderCalculatorErrorIsNotFatal(t *testing.T) {
	calc := &fakeCalculator{err: assert.AnError}
	svc := NewService(nil, NewParser(&fakeInvoiceFetcher{}, &fakeShipmentFetcher{}), calc, nil)

	order := svc.buildOrder(context.Background(), 7, 3, &magento.Order{
		EntityID:  502,
		CreatedAt: "2024-03-01 10:00:00",
	})

	require.NotNil(t, order.OrderedAt)
	assert.Nil(t, order.SLADeadline)
}

// An order with an invoiced total but no embedded invoices must pull its
// invoices from the API, map paid state, and end up paid with no shipments.
func TestOrderFullyInvoicedNotShipped(t *testing.T) {
	invoices := &fakeInvoiceFetcher{
		invoices: []magento.Invoice{
			{EntityID: 900, State: 2, GrandTotal: decimal.NewFromFloat(120.00), CreatedAt: "2024-03-01 11:00:00"},
		},
	}
	shipmentFetcher := &fakeShipmentFetcher{}
	parser := NewParser(invoices, shipmentFetcher)
	calc := &fakeCalculator{}
	svc := NewService(nil, parser, calc, nil)

	raw := &magento.Order{
		EntityID:      500,
		IncrementID:   "000000500",
		Status:        "processing",
		CreatedAt:     "2024-03-01 10:00:00",
		GrandTotal:    decimal.NewFromFloat(120.00),
		TotalInvoiced: decimal.NewFromFloat(120.00),
	}

	records, err := parser.ParseInvoices(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, invoices.calls)
	assert.Equal(t, models.InvoiceStatePaid, records[0].Invoice.State)

	shipments, err := parser.ParseShipments(context.Background(), raw)
	require.NoError(t, err)
	assert.Empty(t, shipments)
	assert.Zero(t, shipmentFetcher.calls)

	order := svc.buildOrder(context.Background(), 1, 1, raw)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
}

func TestFirstShippedAt(t *testing.T) {
	early := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)

	got := firstShippedAt([]models.Shipment{
		{ShippedAt: &late},
		{ShippedAt: nil},
		{ShippedAt: &early},
	})
	require.NotNil(t, got)
	assert.Equal(t, early, *got)

	assert.Nil(t, firstShippedAt(nil))
	assert.Nil(t, firstShippedAt([]models.Shipment{{ShippedAt: nil}}))
}

func TestSyncErrorCarriesIdentifiers(t *testing.T) {
	err := &SyncError{EntityID: 500, IncrementID: "000000500", Err: assert.AnError}
	assert.Contains(t, err.Error(), "000000500")
	assert.Contains(t, err.Error(), "500")
	assert.ErrorIs(t, err, assert.AnError)
}
