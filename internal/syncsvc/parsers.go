package syncsvc

import (
	"context"
	"fmt"

	"flowoms/internal/magento"
	"flowoms/internal/models"
	"flowoms/internal/util"

	"go.uber.org/zap"
)

// InvoiceFetcher fetches invoices when the raw payload does not embed them
type InvoiceFetcher interface {
	GetInvoicesForOrder(ctx context.Context, orderID int64) ([]magento.Invoice, error)
}

// ShipmentFetcher fetches shipments when the raw payload does not embed them
type ShipmentFetcher interface {
	GetShipmentsForOrder(ctx context.Context, orderID int64) ([]magento.Shipment, error)
}

// InvoiceRecord is a parsed invoice with its lines, not yet persisted
type InvoiceRecord struct {
	Invoice models.Invoice
	Items   []models.InvoiceItem
}

// ItemRecord is a parsed order item. MagentoParentID still references the
// parent by its external id; resolving it to an internal id is the sync
// service's job.
type ItemRecord struct {
	Item            models.OrderItem
	MagentoParentID *int64
}

// Parser turns raw Magento payloads into normalized intermediate records.
type Parser struct {
	invoices  InvoiceFetcher
	shipments ShipmentFetcher
	logger    *zap.Logger
}

// NewParser creates a parser backed by the given fetchers
func NewParser(invoices InvoiceFetcher, shipments ShipmentFetcher) *Parser {
	return &Parser{
		invoices:  invoices,
		shipments: shipments,
		logger:    util.GetLogger(),
	}
}

// ParseInvoices extracts the order's invoices. Embedded invoices win; when
// absent but the order reports an invoiced total, they are fetched from the
// API instead.
func (p *Parser) ParseInvoices(ctx context.Context, raw *magento.Order) ([]InvoiceRecord, error) {
	var rawInvoices []magento.Invoice

	switch {
	case raw.ExtensionAttributes != nil && len(raw.ExtensionAttributes.Invoices) > 0:
		rawInvoices = raw.ExtensionAttributes.Invoices
	case raw.TotalInvoiced.IsPositive():
		fetched, err := p.invoices.GetInvoicesForOrder(ctx, raw.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch invoices for order %d: %w", raw.EntityID, err)
		}
		rawInvoices = fetched
	default:
		return nil, nil
	}

	records := make([]InvoiceRecord, 0, len(rawInvoices))
	for _, ri := range rawInvoices {
		customerName := joinedName(ri.CustomerFirstname, ri.CustomerLastname)
		if customerName == "" {
			customerName = raw.CustomerName()
		}

		invoicedAt, err := magento.ParseTime(ri.CreatedAt)
		if err != nil {
			p.logger.Warn("Malformed invoice timestamp, storing null",
				zap.Int64("invoice_id", ri.EntityID),
				zap.String("created_at", ri.CreatedAt))
		}

		rec := InvoiceRecord{
			Invoice: models.Invoice{
				MagentoInvoiceID: ri.EntityID,
				State:            models.InvoiceStateFromMagento(ri.State),
				GrandTotal:       ri.GrandTotal,
				CustomerName:     customerName,
				InvoicedAt:       invoicedAt,
			},
		}
		for _, li := range ri.Items {
			rec.Items = append(rec.Items, models.InvoiceItem{
				SKU:      li.SKU,
				Name:     li.Name,
				Qty:      li.Qty,
				Price:    li.Price,
				RowTotal: li.RowTotal,
			})
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseShipments extracts the order's shipments with the same
// embedded-vs-fetch fallback, keyed on the shipped quantity. Only the first
// tracking entry is kept; the initial status is always in_transit, the real
// delivery state is maintained by the tracking sync.
func (p *Parser) ParseShipments(ctx context.Context, raw *magento.Order) ([]models.Shipment, error) {
	var rawShipments []magento.Shipment

	switch {
	case raw.ExtensionAttributes != nil && len(raw.ExtensionAttributes.Shipments) > 0:
		rawShipments = raw.ExtensionAttributes.Shipments
	case raw.TotalQtyShipped > 0:
		fetched, err := p.shipments.GetShipmentsForOrder(ctx, raw.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch shipments for order %d: %w", raw.EntityID, err)
		}
		rawShipments = fetched
	default:
		return nil, nil
	}

	shipments := make([]models.Shipment, 0, len(rawShipments))
	for _, rs := range rawShipments {
		shippedAt, err := magento.ParseTime(rs.CreatedAt)
		if err != nil {
			p.logger.Warn("Malformed shipment timestamp, storing null",
				zap.Int64("shipment_id", rs.EntityID),
				zap.String("created_at", rs.CreatedAt))
		}

		sh := models.Shipment{
			MagentoShipmentID: rs.EntityID,
			Status:            models.ShipmentStatusInTransit,
			ShippedAt:         shippedAt,
		}
		if len(rs.Tracks) > 0 {
			sh.TrackingNumber = rs.Tracks[0].TrackNumber
			sh.CarrierCode = rs.Tracks[0].CarrierCode
		}
		shipments = append(shipments, sh)
	}
	return shipments, nil
}

// ParseOrderItems extracts the order's items. Items without a SKU are
// skipped with a warning, never fatal.
func (p *Parser) ParseOrderItems(raw *magento.Order) []ItemRecord {
	records := make([]ItemRecord, 0, len(raw.Items))
	for _, ri := range raw.Items {
		if ri.SKU == "" {
			p.logger.Warn("Skipping order item with empty SKU",
				zap.String("increment_id", raw.IncrementID),
				zap.Int64("item_id", ri.ItemID))
			continue
		}

		records = append(records, ItemRecord{
			Item: models.OrderItem{
				MagentoItemID: ri.ItemID,
				SKU:           ri.SKU,
				Name:          ri.Name,
				ProductType:   ri.ProductType,
				QtyOrdered:    ri.QtyOrdered,
				QtyShipped:    ri.QtyShipped,
				QtyCanceled:   ri.QtyCanceled,
				Price:         ri.Price,
				RowTotal:      ri.RowTotal,
				TaxAmount:     ri.TaxAmount,
			},
			MagentoParentID: ri.ParentItemID,
		})
	}
	return records
}

func joinedName(first, last string) string {
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	default:
		return last
	}
}
