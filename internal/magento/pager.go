package magento

import (
	"context"
	"time"
)

// Page is one batch of orders from the search endpoint.
type Page struct {
	Number     int
	Orders     []Order
	TotalCount int
}

// OrderPager walks the paginated order search. The cursor (next page,
// accumulated count, total) lives in the pager, so a crashed batch can be
// resumed from the last committed page by constructing a pager with
// StartPage set.
type OrderPager struct {
	client   *Client
	since    time.Time
	pageSize int

	page    int
	fetched int
	total   int
}

// PagerConfig configures an OrderPager. StartPage defaults to 1.
type PagerConfig struct {
	Since     time.Time
	PageSize  int
	StartPage int
}

// NewOrderPager creates a pager over orders created at or after Since.
func NewOrderPager(client *Client, cfg PagerConfig) *OrderPager {
	start := cfg.StartPage
	if start < 1 {
		start = 1
	}
	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = 100
	}
	return &OrderPager{
		client:   client,
		since:    cfg.Since,
		pageSize: pageSize,
		page:     start,
		fetched:  (start - 1) * pageSize,
		total:    -1,
	}
}

// Next fetches the next page, returning nil when the sequence is exhausted.
// The accumulated-count guard stops the walk once fetched >= total_count,
// so a server that keeps echoing the last page cannot loop it forever.
func (p *OrderPager) Next(ctx context.Context) (*Page, error) {
	if p.total >= 0 && p.fetched >= p.total {
		return nil, nil
	}

	result, err := p.client.GetOrdersSince(ctx, p.since, p.page, p.pageSize)
	if err != nil {
		return nil, err
	}

	p.total = result.TotalCount
	if len(result.Items) == 0 {
		return nil, nil
	}

	page := &Page{
		Number:     p.page,
		Orders:     result.Items,
		TotalCount: result.TotalCount,
	}

	p.fetched += len(result.Items)
	p.page++
	return page, nil
}

// TotalCount returns the server-reported total, -1 before the first fetch.
func (p *OrderPager) TotalCount() int {
	return p.total
}
