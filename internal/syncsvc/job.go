package syncsvc

import (
	"context"
	"encoding/json"
	"errors"
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

// JobParams drive one sync batch for a store.
type JobParams struct {
	TenantID int64
	StoreID  int64
	Days     int
	PageSize int
	// Page, when positive, processes exactly that page.
	Page int
	// BatchID resumes an existing batch from its last committed page.
	BatchID string
}

// Job pages through the Magento order search and persists each page. A page
// is one transaction: raw records and all normalized writes commit together,
// and one malformed order rolls the whole page back. Strict page atomicity
// keeps the persisted (batch, page) cursor exact, so a retried job resumes
// at the first uncommitted page.
type Job struct {
	store     *store.Store
	client    *magento.Client
	service   *Service
	sink      broker.SignalSink
	normalize bool
	logger    *zap.Logger
}

// NewJob creates a sync job. When normalize is false only raw records are
// staged.
func NewJob(st *store.Store, client *magento.Client, service *Service, sink broker.SignalSink, normalize bool) *Job {
	return &Job{
		store:     st,
		client:    client,
		service:   service,
		sink:      sink,
		normalize: normalize,
		logger:    util.GetLogger(),
	}
}

// Run executes one batch.
func (j *Job) Run(ctx context.Context, p JobParams) error {
	ctx, span := util.StartSpan(ctx, "SyncJob.Run")
	defer span.End()

	batchID := p.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	startPage := p.Page
	if startPage < 1 {
		last, err := j.store.LastCommittedPage(ctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to resolve batch cursor: %w", err)
		}
		startPage = last + 1
	}

	j.logger.Info("Starting order sync batch",
		zap.Int64("tenant_id", p.TenantID),
		zap.Int64("store_id", p.StoreID),
		zap.String("batch_id", batchID),
		zap.Int("start_page", startPage))

	pager := magento.NewOrderPager(j.client, magento.PagerConfig{
		Since:     time.Now().AddDate(0, 0, -p.Days),
		PageSize:  p.PageSize,
		StartPage: startPage,
	})

	pages := 0
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch sync page for store %d (batch %s): %w", p.StoreID, batchID, err)
		}
		if page == nil {
			break
		}

		if err := j.processPage(ctx, p, batchID, page); err != nil {
			j.emitSyncFailed(ctx, p, batchID, err)
			return err
		}

		util.SyncPagesCommittedTotal.Inc()
		pages++

		if p.Page > 0 {
			break
		}
	}

	j.logger.Info("Order sync batch finished",
		zap.String("batch_id", batchID),
		zap.Int("pages", pages),
		zap.Int("total_count", pager.TotalCount()))
	return nil
}

func (j *Job) processPage(ctx context.Context, p JobParams, batchID string, page *magento.Page) error {
	start := time.Now()
	defer func() {
		util.SyncPageDuration.Observe(time.Since(start).Seconds())
	}()

	return j.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for i := range page.Orders {
			raw := &page.Orders[i]

			payload, err := json.Marshal(raw)
			if err != nil {
				return &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID,
					Err: fmt.Errorf("failed to marshal raw order: %w", err)}
			}

			rec := &models.RawOrderSync{
				TenantID:       p.TenantID,
				StoreID:        p.StoreID,
				MagentoOrderID: raw.EntityID,
				IncrementID:    raw.IncrementID,
				Payload:        payload,
				MagentoStatus:  raw.Status,
				HasInvoice:     hasInvoices(raw),
				HasShipment:    hasShipments(raw),
				SyncBatchID:    batchID,
				SyncPage:       page.Number,
				SyncedAt:       time.Now(),
			}

			if err := j.store.UpsertRawOrderSync(ctx, tx, rec); err != nil {
				return &SyncError{EntityID: raw.EntityID, IncrementID: raw.IncrementID,
					Err: fmt.Errorf("failed to stage raw record: %w", err)}
			}

			if j.normalize {
				if _, err := j.service.SyncOrder(ctx, tx, rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (j *Job) emitSyncFailed(ctx context.Context, p JobParams, batchID string, cause error) {
	event := &models.OrderSyncFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderSyncFailed,
			TenantID:  p.TenantID,
			Timestamp: time.Now(),
		},
		SyncBatchID: batchID,
		Reason:      cause.Error(),
	}
	var syncErr *SyncError
	if errors.As(cause, &syncErr) {
		event.MagentoOrderID = syncErr.EntityID
		event.IncrementID = syncErr.IncrementID
	}
	if err := j.sink.Emit(ctx, fmt.Sprintf("store-%d", p.StoreID), event); err != nil {
		j.logger.Error("Failed to emit OrderSyncFailed", zap.Error(err))
	}

	j.logger.Error("Sync page failed, page rolled back",
		zap.Int64("store_id", p.StoreID),
		zap.String("batch_id", batchID),
		zap.Error(cause))
}

func hasInvoices(raw *magento.Order) bool {
	if raw.ExtensionAttributes != nil && len(raw.ExtensionAttributes.Invoices) > 0 {
		return true
	}
	return raw.TotalInvoiced.IsPositive()
}

func hasShipments(raw *magento.Order) bool {
	if raw.ExtensionAttributes != nil && len(raw.ExtensionAttributes.Shipments) > 0 {
		return true
	}
	return raw.TotalQtyShipped > 0
}
