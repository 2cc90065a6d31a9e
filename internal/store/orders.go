package store

import (
	"context"
	"database/sql"
	"time"

	"flowoms/internal/models"

	"github.com/jmoiron/sqlx"
)

// UpsertOrder inserts or updates an order keyed by (tenant_id,
// magento_order_id). shipped_at is set once and never cleared;
// sla_deadline and sla_breached are left untouched on update so a deadline
// is only ever set at creation or by explicit recalculation.
func (s *Store) UpsertOrder(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	query := `
		INSERT INTO orders (
			tenant_id, store_id, magento_order_id, increment_id, status,
			payment_status, grand_total, subtotal, tax_amount, shipping_amount,
			discount_amount, currency, customer_name, customer_email,
			shipping_method, ordered_at, shipped_at, sla_deadline
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (tenant_id, magento_order_id) DO UPDATE SET
			status          = EXCLUDED.status,
			payment_status  = EXCLUDED.payment_status,
			grand_total     = EXCLUDED.grand_total,
			subtotal        = EXCLUDED.subtotal,
			tax_amount      = EXCLUDED.tax_amount,
			shipping_amount = EXCLUDED.shipping_amount,
			discount_amount = EXCLUDED.discount_amount,
			currency        = EXCLUDED.currency,
			customer_name   = EXCLUDED.customer_name,
			customer_email  = EXCLUDED.customer_email,
			shipping_method = EXCLUDED.shipping_method,
			ordered_at      = EXCLUDED.ordered_at,
			shipped_at      = COALESCE(orders.shipped_at, EXCLUDED.shipped_at),
			updated_at      = NOW()
		RETURNING id, shipped_at, sla_deadline, sla_breached, created_at, updated_at`

	row := q.QueryRowxContext(ctx, query,
		order.TenantID, order.StoreID, order.MagentoOrderID, order.IncrementID,
		order.Status, order.PaymentStatus, order.GrandTotal, order.Subtotal,
		order.TaxAmount, order.ShippingAmount, order.DiscountAmount,
		order.Currency, order.CustomerName, order.CustomerEmail,
		order.ShippingMethod, order.OrderedAt, order.ShippedAt, order.SLADeadline)

	return row.Scan(&order.ID, &order.ShippedAt, &order.SLADeadline,
		&order.SLABreached, &order.CreatedAt, &order.UpdatedAt)
}

// UpsertOrderItem inserts or updates an item keyed by (order_id,
// magento_item_id) and backfills the internal id.
func (s *Store) UpsertOrderItem(ctx context.Context, q sqlx.ExtContext, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (
			order_id, magento_item_id, parent_item_id, sku, name, product_type,
			qty_ordered, qty_shipped, qty_canceled, price, row_total, tax_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id, magento_item_id) DO UPDATE SET
			parent_item_id = EXCLUDED.parent_item_id,
			sku            = EXCLUDED.sku,
			name           = EXCLUDED.name,
			product_type   = EXCLUDED.product_type,
			qty_ordered    = EXCLUDED.qty_ordered,
			qty_shipped    = EXCLUDED.qty_shipped,
			qty_canceled   = EXCLUDED.qty_canceled,
			price          = EXCLUDED.price,
			row_total      = EXCLUDED.row_total,
			tax_amount     = EXCLUDED.tax_amount
		RETURNING id`

	row := q.QueryRowxContext(ctx, query,
		item.OrderID, item.MagentoItemID, item.ParentItemID, item.SKU,
		item.Name, item.ProductType, item.QtyOrdered, item.QtyShipped,
		item.QtyCanceled, item.Price, item.RowTotal, item.TaxAmount)

	return row.Scan(&item.ID)
}

// GetOrderByID retrieves an order by internal id, nil when no row exists
func (s *Store) GetOrderByID(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByMagentoID retrieves an order by its tenant-scoped Magento id
func (s *Store) GetOrderByMagentoID(ctx context.Context, q sqlx.QueryerContext, tenantID, magentoOrderID int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order,
		"SELECT * FROM orders WHERE tenant_id = $1 AND magento_order_id = $2",
		tenantID, magentoOrderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetInvoicesForOrder retrieves all invoices for an order
func (s *Store) GetInvoicesForOrder(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := sqlx.SelectContext(ctx, q, &invoices,
		"SELECT * FROM invoices WHERE order_id = $1 ORDER BY id", orderID)
	return invoices, err
}

// GetShipmentsForOrder retrieves all shipments for an order
func (s *Store) GetShipmentsForOrder(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.Shipment, error) {
	var shipments []models.Shipment
	err := sqlx.SelectContext(ctx, q, &shipments,
		"SELECT * FROM shipments WHERE order_id = $1 ORDER BY id", orderID)
	return shipments, err
}

// UpdateSLADeadline explicitly recalculates an order's deadline. The
// breached flag is deliberately not reset: a past breach stays on record.
func (s *Store) UpdateSLADeadline(ctx context.Context, q sqlx.ExtContext, orderID int64, deadline *time.Time) error {
	_, err := q.ExecContext(ctx,
		"UPDATE orders SET sla_deadline = $1, updated_at = NOW() WHERE id = $2",
		deadline, orderID)
	return err
}

// ImminentBreachOrders returns unshipped, unbreached orders whose deadline
// falls inside (now, until].
func (s *Store) ImminentBreachOrders(ctx context.Context, tenantID int64, now, until time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, s.db, &orders, `
		SELECT * FROM orders
		WHERE tenant_id = $1
		  AND shipped_at IS NULL
		  AND sla_breached = FALSE
		  AND sla_deadline > $2
		  AND sla_deadline <= $3
		ORDER BY sla_deadline`, tenantID, now, until)
	return orders, err
}

// BreachCandidates returns unshipped, unbreached orders whose deadline has
// passed.
func (s *Store) BreachCandidates(ctx context.Context, tenantID int64, now time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, s.db, &orders, `
		SELECT * FROM orders
		WHERE tenant_id = $1
		  AND shipped_at IS NULL
		  AND sla_breached = FALSE
		  AND sla_deadline IS NOT NULL
		  AND sla_deadline <= $2
		ORDER BY sla_deadline`, tenantID, now)
	return orders, err
}

// MarkSLABreached flips sla_breached to true. The WHERE guard makes the
// flip one-way and at-most-once even across racing monitor runs; the return
// value reports whether this call performed the flip.
func (s *Store) MarkSLABreached(ctx context.Context, orderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET sla_breached = TRUE, updated_at = NOW() WHERE id = $1 AND sla_breached = FALSE",
		orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetOrderCancelled marks an order locally cancelled with a failed payment.
// Runs inside the caller's transaction.
func (s *Store) SetOrderCancelled(ctx context.Context, q sqlx.ExtContext, orderID int64) error {
	_, err := q.ExecContext(ctx,
		"UPDATE orders SET status = $1, payment_status = $2, updated_at = NOW() WHERE id = $3",
		models.OrderStatusCanceled, models.PaymentStatusFailed, orderID)
	return err
}

// UnpaidOrdersPastThreshold returns pending unpaid orders older than the
// threshold that have no prior notification of the given kind.
func (s *Store) UnpaidOrdersPastThreshold(ctx context.Context, tenantID int64, kind string, olderThan time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, s.db, &orders, `
		SELECT o.* FROM orders o
		WHERE o.tenant_id = $1
		  AND o.status = $2
		  AND o.payment_status = $3
		  AND o.ordered_at IS NOT NULL
		  AND o.ordered_at <= $4
		  AND NOT EXISTS (
			SELECT 1 FROM unpaid_order_notifications n
			WHERE n.order_id = o.id AND n.kind = $5
		  )
		ORDER BY o.ordered_at`,
		tenantID, models.OrderStatusPending, models.PaymentStatusPending, olderThan, kind)
	return orders, err
}

// ListTenantIDs returns every tenant with at least one order
func (s *Store) ListTenantIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, s.db, &ids,
		"SELECT DISTINCT tenant_id FROM orders ORDER BY tenant_id")
	return ids, err
}
