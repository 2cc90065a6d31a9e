package magento

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the timestamp format used by the Magento REST API.
const TimeLayout = "2006-01-02 15:04:05"

// ParseTime parses a Magento timestamp. Callers treat a failure as a
// data-quality issue, not a fatal one.
func ParseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Order is a raw Magento order payload
type Order struct {
	EntityID            int64            `json:"entity_id"`
	IncrementID         string           `json:"increment_id"`
	StoreID             int64            `json:"store_id"`
	Status              string           `json:"status"`
	State               string           `json:"state"`
	GrandTotal          decimal.Decimal  `json:"grand_total"`
	Subtotal            decimal.Decimal  `json:"subtotal"`
	TaxAmount           decimal.Decimal  `json:"tax_amount"`
	ShippingAmount      decimal.Decimal  `json:"shipping_amount"`
	DiscountAmount      decimal.Decimal  `json:"discount_amount"`
	TotalInvoiced       decimal.Decimal  `json:"total_invoiced"`
	TotalQtyShipped     float64          `json:"total_qty_shipped"`
	OrderCurrencyCode   string           `json:"order_currency_code"`
	CustomerFirstname   string           `json:"customer_firstname"`
	CustomerLastname    string           `json:"customer_lastname"`
	CustomerEmail       string           `json:"customer_email"`
	ShippingDescription string           `json:"shipping_description"`
	CreatedAt           string           `json:"created_at"`
	Items               []OrderItem      `json:"items"`
	ExtensionAttributes *OrderExtensions `json:"extension_attributes,omitempty"`
}

// CustomerName joins the order's customer name fields, "Guest" when empty.
func (o *Order) CustomerName() string {
	name := joinName(o.CustomerFirstname, o.CustomerLastname)
	if name == "" {
		return "Guest"
	}
	return name
}

func joinName(first, last string) string {
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	default:
		return last
	}
}

// OrderExtensions carries sub-resources Magento sometimes embeds on the
// order payload.
type OrderExtensions struct {
	Invoices  []Invoice  `json:"invoices,omitempty"`
	Shipments []Shipment `json:"shipments,omitempty"`
}

// OrderItem is a raw Magento order item. ParentItemID references another
// item in the same order by its Magento item id.
type OrderItem struct {
	ItemID       int64           `json:"item_id"`
	ParentItemID *int64          `json:"parent_item_id,omitempty"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	ProductType  string          `json:"product_type"`
	QtyOrdered   float64         `json:"qty_ordered"`
	QtyShipped   float64         `json:"qty_shipped"`
	QtyCanceled  float64         `json:"qty_canceled"`
	Price        decimal.Decimal `json:"price"`
	RowTotal     decimal.Decimal `json:"row_total"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
}

// Invoice is a raw Magento invoice payload
type Invoice struct {
	EntityID          int64           `json:"entity_id"`
	OrderID           int64           `json:"order_id"`
	State             int             `json:"state"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	CustomerFirstname string          `json:"customer_firstname"`
	CustomerLastname  string          `json:"customer_lastname"`
	CreatedAt         string          `json:"created_at"`
	Items             []InvoiceItem   `json:"items"`
}

// InvoiceItem is a raw Magento invoice line
type InvoiceItem struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Qty      float64         `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	RowTotal decimal.Decimal `json:"row_total"`
}

// Shipment is a raw Magento shipment payload
type Shipment struct {
	EntityID  int64           `json:"entity_id"`
	OrderID   int64           `json:"order_id"`
	TotalQty  float64         `json:"total_qty"`
	CreatedAt string          `json:"created_at"`
	Tracks    []ShipmentTrack `json:"tracks"`
}

// ShipmentTrack is one tracking entry on a shipment
type ShipmentTrack struct {
	TrackNumber string `json:"track_number"`
	CarrierCode string `json:"carrier_code"`
	Title       string `json:"title"`
}

// OrdersResult is the Magento search envelope for orders
type OrdersResult struct {
	Items      []Order `json:"items"`
	TotalCount int     `json:"total_count"`
}

// InvoicesResult is the Magento search envelope for invoices
type InvoicesResult struct {
	Items      []Invoice `json:"items"`
	TotalCount int       `json:"total_count"`
}

// ShipmentsResult is the Magento search envelope for shipments
type ShipmentsResult struct {
	Items      []Shipment `json:"items"`
	TotalCount int        `json:"total_count"`
}

// StoreConfig is the store configuration returned by the connection test
type StoreConfig struct {
	ID                  int64  `json:"id"`
	Code                string `json:"code"`
	WebsiteID           int64  `json:"website_id"`
	Locale              string `json:"locale"`
	BaseCurrencyCode    string `json:"base_currency_code"`
	DefaultDisplayCurrencyCode string `json:"default_display_currency_code"`
	Timezone            string `json:"timezone"`
	BaseURL             string `json:"base_url"`
}

// CancelResult reports the outcome of a remote order cancellation
type CancelResult struct {
	StatusCode int
	Body       string
}
