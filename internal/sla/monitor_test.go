package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flowoms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrderStore struct {
	tenants    []int64
	imminent   map[int64][]models.Order
	candidates map[int64][]models.Order
	breached   map[int64]bool
	markCalls  []int64
	settings   map[string]int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		imminent:   map[int64][]models.Order{},
		candidates: map[int64][]models.Order{},
		breached:   map[int64]bool{},
		settings:   map[string]int{},
	}
}

func (f *fakeOrderStore) ListTenantIDs(ctx context.Context) ([]int64, error) {
	return f.tenants, nil
}

func (f *fakeOrderStore) ImminentBreachOrders(ctx context.Context, tenantID int64, now, until time.Time) ([]models.Order, error) {
	return f.imminent[tenantID], nil
}

func (f *fakeOrderStore) BreachCandidates(ctx context.Context, tenantID int64, now time.Time) ([]models.Order, error) {
	return f.candidates[tenantID], nil
}

func (f *fakeOrderStore) MarkSLABreached(ctx context.Context, orderID int64) (bool, error) {
	f.markCalls = append(f.markCalls, orderID)
	if f.breached[orderID] {
		return false, nil
	}
	f.breached[orderID] = true
	return true, nil
}

func (f *fakeOrderStore) GetSettingInt(ctx context.Context, tenantID int64, group, key string, defaultVal int) (int, error) {
	if v, ok := f.settings[key]; ok {
		return v, nil
	}
	return defaultVal, nil
}

type fakeMarkers struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (f *fakeMarkers) SetMarker(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type recordingSink struct {
	events []interface{}
	keys   []string
}

func (r *recordingSink) Emit(ctx context.Context, key string, event interface{}) error {
	r.keys = append(r.keys, key)
	r.events = append(r.events, event)
	return nil
}

func orderWithDeadline(id, tenantID int64, deadline time.Time) models.Order {
	return models.Order{
		ID:          id,
		TenantID:    tenantID,
		IncrementID: "000000500",
		SLADeadline: &deadline,
	}
}

func TestMonitorEmitsImminentWarning(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	st := newFakeOrderStore()
	st.tenants = []int64{1}
	st.imminent[1] = []models.Order{orderWithDeadline(10, 1, now.Add(2*time.Hour))}

	sink := &recordingSink{}
	monitor := NewMonitor(st, &fakeMarkers{}, sink)

	require.NoError(t, monitor.RunOnce(context.Background(), now))
	require.Len(t, sink.events, 1)

	event, ok := sink.events[0].(*models.SLABreachImminentEvent)
	require.True(t, ok)
	assert.Equal(t, int64(10), event.OrderID)
	assert.Equal(t, models.EventTypeSLABreachImminent, event.EventType)
	assert.InDelta(t, 2.0, event.HoursRemaining, 0.001)
	assert.Equal(t, "order-10", sink.keys[0])
}

func TestMonitorDedupesImminentAcrossRuns(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	st := newFakeOrderStore()
	st.tenants = []int64{1}
	st.imminent[1] = []models.Order{orderWithDeadline(10, 1, now.Add(2*time.Hour))}

	sink := &recordingSink{}
	markers := &fakeMarkers{}
	monitor := NewMonitor(st, markers, sink)

	require.NoError(t, monitor.RunOnce(context.Background(), now))
	require.NoError(t, monitor.RunOnce(context.Background(), now.Add(30*time.Minute)))

	assert.Len(t, sink.events, 1, "second run inside the window must not re-signal")
}

func TestMonitorEmitsDespiteMarkerFailure(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	st := newFakeOrderStore()
	st.tenants = []int64{1}
	st.imminent[1] = []models.Order{orderWithDeadline(10, 1, now.Add(time.Hour))}

	sink := &recordingSink{}
	monitor := NewMonitor(st, &fakeMarkers{err: errors.New("redis down")}, sink)

	require.NoError(t, monitor.RunOnce(context.Background(), now))
	assert.Len(t, sink.events, 1, "a marker failure never suppresses the warning")
}

func TestMonitorBreachFlipsOnce(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	st := newFakeOrderStore()
	st.tenants = []int64{1}
	st.candidates[1] = []models.Order{orderWithDeadline(20, 1, now.Add(-time.Hour))}

	sink := &recordingSink{}
	monitor := NewMonitor(st, &fakeMarkers{}, sink)

	require.NoError(t, monitor.RunOnce(context.Background(), now))
	require.Len(t, sink.events, 1)
	event, ok := sink.events[0].(*models.SLABreachedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(20), event.OrderID)

	// the candidate is still returned by the (stale) query on the next run,
	// but the conditional update no longer flips
	require.NoError(t, monitor.RunOnce(context.Background(), now.Add(time.Minute)))
	assert.Len(t, sink.events, 1, "breached signal must fire exactly once")
	assert.Equal(t, []int64{20, 20}, st.markCalls)
}

func TestMonitorSweepsAllTenants(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	st := newFakeOrderStore()
	st.tenants = []int64{1, 2}
	st.candidates[1] = []models.Order{orderWithDeadline(20, 1, now.Add(-time.Hour))}
	st.candidates[2] = []models.Order{orderWithDeadline(30, 2, now.Add(-2*time.Hour))}

	sink := &recordingSink{}
	monitor := NewMonitor(st, &fakeMarkers{}, sink)

	require.NoError(t, monitor.RunOnce(context.Background(), now))
	require.Len(t, sink.events, 2)
	assert.Equal(t, int64(1), sink.events[0].(*models.SLABreachedEvent).TenantID)
	assert.Equal(t, int64(2), sink.events[1].(*models.SLABreachedEvent).TenantID)
}

func TestMonitorUsesTenantWarningWindow(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	st := newFakeOrderStore()
	st.tenants = []int64{1}
	st.settings["warning_hours"] = 12

	var gotUntil time.Time
	// capture the window via the imminent query arguments
	capturing := &windowCapturingStore{fakeOrderStore: st, until: &gotUntil}

	monitor := NewMonitor(capturing, &fakeMarkers{}, &recordingSink{})
	require.NoError(t, monitor.RunOnce(context.Background(), now))
	assert.Equal(t, now.Add(12*time.Hour), gotUntil)
}

type windowCapturingStore struct {
	*fakeOrderStore
	until *time.Time
}

func (w *windowCapturingStore) ImminentBreachOrders(ctx context.Context, tenantID int64, now, until time.Time) ([]models.Order, error) {
	*w.until = until
	return w.fakeOrderStore.ImminentBreachOrders(ctx, tenantID, now, until)
}
