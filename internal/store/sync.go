package store

import (
	"context"

	"flowoms/internal/models"

	"github.com/jmoiron/sqlx"
)

// UpsertRawOrderSync stages one raw order payload keyed by (tenant, store,
// magento order id). The raw payload is immutable: on conflict only status
// flags and the batch cursor are refreshed.
func (s *Store) UpsertRawOrderSync(ctx context.Context, q sqlx.ExtContext, rec *models.RawOrderSync) error {
	query := `
		INSERT INTO raw_order_syncs (
			tenant_id, store_id, magento_order_id, increment_id, payload,
			magento_status, has_invoice, has_shipment, sync_batch_id,
			sync_page, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, store_id, magento_order_id) DO UPDATE SET
			magento_status = EXCLUDED.magento_status,
			has_invoice    = EXCLUDED.has_invoice,
			has_shipment   = EXCLUDED.has_shipment,
			sync_batch_id  = EXCLUDED.sync_batch_id,
			sync_page      = EXCLUDED.sync_page,
			synced_at      = EXCLUDED.synced_at,
			updated_at     = NOW()
		RETURNING id, created_at, updated_at`

	row := q.QueryRowxContext(ctx, query,
		rec.TenantID, rec.StoreID, rec.MagentoOrderID, rec.IncrementID,
		rec.Payload, rec.MagentoStatus, rec.HasInvoice, rec.HasShipment,
		rec.SyncBatchID, rec.SyncPage, rec.SyncedAt)

	return row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// LastCommittedPage returns the highest page committed for a batch, zero
// when the batch has no committed pages yet.
func (s *Store) LastCommittedPage(ctx context.Context, batchID string) (int, error) {
	var page int
	err := sqlx.GetContext(ctx, s.db, &page,
		"SELECT COALESCE(MAX(sync_page), 0) FROM raw_order_syncs WHERE sync_batch_id = $1",
		batchID)
	return page, err
}

// UpsertInvoice inserts or updates an invoice keyed by (order_id,
// magento_invoice_id). Cancellation is only applied when the stored state
// is still open.
func (s *Store) UpsertInvoice(ctx context.Context, q sqlx.ExtContext, inv *models.Invoice) error {
	query := `
		INSERT INTO invoices (
			order_id, magento_invoice_id, state, grand_total, customer_name, invoiced_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, magento_invoice_id) DO UPDATE SET
			state = CASE
				WHEN EXCLUDED.state = 'canceled' AND invoices.state <> 'open' THEN invoices.state
				ELSE EXCLUDED.state
			END,
			grand_total   = EXCLUDED.grand_total,
			customer_name = EXCLUDED.customer_name,
			invoiced_at   = EXCLUDED.invoiced_at,
			updated_at    = NOW()
		RETURNING id, state, created_at, updated_at`

	row := q.QueryRowxContext(ctx, query,
		inv.OrderID, inv.MagentoInvoiceID, inv.State, inv.GrandTotal,
		inv.CustomerName, inv.InvoicedAt)

	return row.Scan(&inv.ID, &inv.State, &inv.CreatedAt, &inv.UpdatedAt)
}

// UpsertInvoiceItem inserts or updates an invoice line keyed by
// (invoice_id, sku).
func (s *Store) UpsertInvoiceItem(ctx context.Context, q sqlx.ExtContext, item *models.InvoiceItem) error {
	query := `
		INSERT INTO invoice_items (invoice_id, sku, name, qty, price, row_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (invoice_id, sku) DO UPDATE SET
			name      = EXCLUDED.name,
			qty       = EXCLUDED.qty,
			price     = EXCLUDED.price,
			row_total = EXCLUDED.row_total
		RETURNING id`

	row := q.QueryRowxContext(ctx, query,
		item.InvoiceID, item.SKU, item.Name, item.Qty, item.Price, item.RowTotal)

	return row.Scan(&item.ID)
}

// UpsertShipment inserts or updates a shipment keyed by (order_id,
// magento_shipment_id). Terminal statuses are never regressed. The return
// value reports whether this call moved the row into the delivered status;
// the prev CTE reads the pre-statement snapshot.
func (s *Store) UpsertShipment(ctx context.Context, q sqlx.ExtContext, sh *models.Shipment) (bool, error) {
	query := `
		WITH prev AS (
			SELECT status FROM shipments
			WHERE order_id = $1 AND magento_shipment_id = $2
		)
		INSERT INTO shipments (
			order_id, magento_shipment_id, tracking_number, carrier_code,
			status, estimated_delivery_at, actual_delivery_at, signed_by,
			delivery_notes, proof_photo_url, shipped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id, magento_shipment_id) DO UPDATE SET
			tracking_number = EXCLUDED.tracking_number,
			carrier_code    = EXCLUDED.carrier_code,
			status = CASE
				WHEN shipments.status IN ('delivered', 'exception', 'expired') THEN shipments.status
				ELSE EXCLUDED.status
			END,
			estimated_delivery_at = EXCLUDED.estimated_delivery_at,
			actual_delivery_at    = COALESCE(shipments.actual_delivery_at, EXCLUDED.actual_delivery_at),
			signed_by       = EXCLUDED.signed_by,
			delivery_notes  = EXCLUDED.delivery_notes,
			proof_photo_url = EXCLUDED.proof_photo_url,
			shipped_at      = COALESCE(shipments.shipped_at, EXCLUDED.shipped_at),
			updated_at      = NOW()
		RETURNING id, status, actual_delivery_at, created_at, updated_at,
			COALESCE((SELECT status FROM prev), '')`

	row := q.QueryRowxContext(ctx, query,
		sh.OrderID, sh.MagentoShipmentID, sh.TrackingNumber, sh.CarrierCode,
		sh.Status, sh.EstimatedDeliveryAt, sh.ActualDeliveryAt, sh.SignedBy,
		sh.DeliveryNotes, sh.ProofPhotoURL, sh.ShippedAt)

	var prevStatus string
	if err := row.Scan(&sh.ID, &sh.Status, &sh.ActualDeliveryAt, &sh.CreatedAt, &sh.UpdatedAt, &prevStatus); err != nil {
		return false, err
	}
	delivered := sh.Status == models.ShipmentStatusDelivered && prevStatus != models.ShipmentStatusDelivered
	return delivered, nil
}

// InsertUnpaidNotification appends one notification attempt. Rows are never
// updated afterwards.
func (s *Store) InsertUnpaidNotification(ctx context.Context, q sqlx.ExtContext, n *models.UnpaidOrderNotification) error {
	query := `
		INSERT INTO unpaid_order_notifications (
			tenant_id, order_id, kind, endpoint, request_payload,
			response_status, response_body, error_message, retry_count, success
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	row := q.QueryRowxContext(ctx, query,
		n.TenantID, n.OrderID, n.Kind, n.Endpoint, n.RequestPayload,
		n.ResponseStatus, n.ResponseBody, n.ErrorMessage, n.RetryCount, n.Success)

	return row.Scan(&n.ID, &n.CreatedAt)
}

// ListSyncTargets returns every store with syncing enabled, across all
// tenants. The scheduled sweep enqueues one batch per target.
func (s *Store) ListSyncTargets(ctx context.Context) ([]models.StoreRef, error) {
	targets := []models.StoreRef{}
	err := sqlx.SelectContext(ctx, s.db, &targets, `
		SELECT tenant_id, id AS store_id FROM stores
		WHERE sync_enabled = TRUE
		ORDER BY tenant_id, id`)
	return targets, err
}
