package sla

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSettings serves settings from a map keyed "group.key".
type fakeSettings struct {
	values map[string]string
}

func (f *fakeSettings) GetSetting(ctx context.Context, tenantID int64, group, key, defaultVal string) (string, error) {
	if v, ok := f.values[group+"."+key]; ok {
		return v, nil
	}
	return defaultVal, nil
}

func (f *fakeSettings) GetSettingInt(ctx context.Context, tenantID int64, group, key string, defaultVal int) (int, error) {
	raw, _ := f.GetSetting(ctx, tenantID, group, key, "")
	if raw == "" {
		return defaultVal, nil
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return defaultVal, nil
	}
	return n, nil
}

func (f *fakeSettings) GetSettingBool(ctx context.Context, tenantID int64, group, key string, defaultVal bool) (bool, error) {
	raw, _ := f.GetSetting(ctx, tenantID, group, key, "")
	switch raw {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return defaultVal, nil
}

func weekdayCalendar(start, end int) *Config {
	return &Config{
		Groups: []PatternGroup{
			{Name: "express", Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)express`)}, Hours: 24},
		},
		BusinessDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
		BusinessStart: start,
		BusinessEnd:   end,
		Holidays:      map[string]bool{},
	}
}

func TestCalculateNilWithoutOrderedAt(t *testing.T) {
	assert.Nil(t, CalculateWithConfig(weekdayCalendar(9, 18), nil, "express"))
}

func TestCalculateWallClockWhen24x7(t *testing.T) {
	cfg := weekdayCalendar(9, 18)
	cfg.Always24x7 = true

	// a Saturday night; the calendar is ignored entirely
	orderedAt := time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)
	got := CalculateWithConfig(cfg, &orderedAt, "express shipping")
	require.NotNil(t, got)
	assert.Equal(t, orderedAt.Add(24*time.Hour), *got)
}

func TestCalculateSpillsIntoNextBusinessDay(t *testing.T) {
	// 9-hour business day (9:00-18:00). An order at 17:00 needing 3 hours
	// consumes 1 hour today and lands 2 hours into the next day: 11:00.
	cfg := weekdayCalendar(9, 18)
	cfg.Groups = []PatternGroup{
		{Name: "same_day", Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)courier`)}, Hours: 3},
	}

	// Monday 2024-03-04 17:00
	orderedAt := time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC)
	got := CalculateWithConfig(cfg, &orderedAt, "City Courier")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC), *got)
}

func TestCalculateSnapsForwardOutsideHours(t *testing.T) {
	cfg := weekdayCalendar(9, 18)

	// before opening: budget starts at 9:00 the same day
	early := time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC) // Monday
	got := CalculateWithConfig(cfg, &early, "express")
	require.NotNil(t, got)
	// 24h budget: Mon 9-18 (9h), Tue 9-18 (9h), Wed 9:00 + 6h
	assert.Equal(t, time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC), *got)

	// after closing: budget starts next business day
	late := time.Date(2024, 3, 4, 19, 0, 0, 0, time.UTC)
	got = CalculateWithConfig(cfg, &late, "express")
	require.NotNil(t, got)
	// Tue 9-18, Wed 9-18, Thu 9:00 + 6h
	assert.Equal(t, time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC), *got)
}

func TestCalculateSkipsWeekendsAndHolidays(t *testing.T) {
	cfg := weekdayCalendar(9, 18)
	cfg.Groups = []PatternGroup{
		{Name: "overnight", Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)overnight`)}, Hours: 10},
	}
	cfg.Holidays["2024-03-04"] = true // Monday is a holiday

	// Friday 2024-03-01 16:00. Friday gives 2h, the weekend and the Monday
	// holiday are skipped, Tuesday 9:00 + 8h = 17:00.
	orderedAt := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	got := CalculateWithConfig(cfg, &orderedAt, "Overnight Express")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC), *got)
}

func TestCalculateDeterministic(t *testing.T) {
	cfg := weekdayCalendar(9, 18)
	orderedAt := time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)

	first := CalculateWithConfig(cfg, &orderedAt, "express")
	for i := 0; i < 5; i++ {
		again := CalculateWithConfig(cfg, &orderedAt, "express")
		require.NotNil(t, again)
		assert.Equal(t, *first, *again)
	}
}

func TestResolveHoursPriorityOrder(t *testing.T) {
	cfg := &Config{
		Groups: []PatternGroup{
			{Name: "same_day", Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)same.?day`)}, Hours: 8},
			{Name: "express", Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)express`)}, Hours: 36},
		},
	}

	// matches both groups; the earlier one wins
	assert.Equal(t, 8, cfg.ResolveHours("Same Day Express"))
	assert.Equal(t, 36, cfg.ResolveHours("Express Saver"))
	assert.Equal(t, DefaultHours, cfg.ResolveHours("Carrier Pigeon"))
	assert.Equal(t, DefaultHours, cfg.ResolveHours(""))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), &fakeSettings{values: map[string]string{}}, 1)
	require.NoError(t, err)

	assert.False(t, cfg.Always24x7)
	assert.Equal(t, DefaultBusinessStart, cfg.BusinessStart)
	assert.Equal(t, DefaultBusinessEnd, cfg.BusinessEnd)
	assert.Equal(t, DefaultWarningHours, cfg.WarningHours)
	assert.True(t, cfg.BusinessDays[time.Monday])
	assert.True(t, cfg.BusinessDays[time.Friday])
	assert.False(t, cfg.BusinessDays[time.Saturday])
	require.Len(t, cfg.Groups, 4)
	assert.Equal(t, "same_day", cfg.Groups[0].Name)
	assert.Equal(t, DefaultHours, cfg.Groups[3].Hours)

	// built-in patterns are usable
	assert.Equal(t, 24, cfg.ResolveHours("Next Day Air"))
	assert.Equal(t, DefaultHours, cfg.ResolveHours("Flat Rate - Ground"))
}

func TestLoadConfigTenantOverrides(t *testing.T) {
	settings := &fakeSettings{values: map[string]string{
		"sla.always_24x7":         "true",
		"sla.business_days":       "2,4,6",
		"sla.holidays":            "2024-12-25, 2024-01-01",
		"sla.express_hours":       "12",
		"sla.same_day_patterns":   "[invalid(regex, rocket",
		"sla.warning_hours":       "3",
		"sla.business_start_hour": "8",
		"sla.business_end_hour":   "20",
	}}

	cfg, err := LoadConfig(context.Background(), settings, 42)
	require.NoError(t, err)

	assert.True(t, cfg.Always24x7)
	assert.True(t, cfg.BusinessDays[time.Tuesday])
	assert.True(t, cfg.BusinessDays[time.Saturday])
	assert.False(t, cfg.BusinessDays[time.Monday])
	assert.True(t, cfg.Holidays["2024-12-25"])
	assert.True(t, cfg.Holidays["2024-01-01"])
	assert.Equal(t, 3, cfg.WarningHours)
	assert.Equal(t, 8, cfg.BusinessStart)
	assert.Equal(t, 20, cfg.BusinessEnd)

	// the invalid regex is dropped, the valid one still matches
	assert.Equal(t, 8, cfg.ResolveHours("Rocket Delivery"))
	assert.Equal(t, 12, cfg.ResolveHours("Express Saver"))
}

func TestLoadConfigInvalidWindowFallsBack(t *testing.T) {
	settings := &fakeSettings{values: map[string]string{
		"sla.business_start_hour": "18",
		"sla.business_end_hour":   "9",
	}}

	cfg, err := LoadConfig(context.Background(), settings, 1)
	require.NoError(t, err)
	assert.Equal(t, DefaultBusinessStart, cfg.BusinessStart)
	assert.Equal(t, DefaultBusinessEnd, cfg.BusinessEnd)
}

func TestCalculatorNilOrderedAt(t *testing.T) {
	calc := NewCalculator(&fakeSettings{values: map[string]string{}})
	got, err := calc.CalculateDeadline(context.Background(), 1, nil, "express")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCalculatorEndToEnd(t *testing.T) {
	calc := NewCalculator(&fakeSettings{values: map[string]string{
		"sla.always_24x7": "true",
	}})

	orderedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := calc.CalculateDeadline(context.Background(), 1, &orderedAt, "Overnight")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, orderedAt.Add(24*time.Hour), *got)
}
