package sla

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"flowoms/internal/util"

	"go.uber.org/zap"
)

const (
	settingGroup = "sla"

	// DefaultHours applies when the shipping method matches no pattern
	// group or is empty.
	DefaultHours = 48

	DefaultWarningHours  = 6
	DefaultBusinessStart = 9
	DefaultBusinessEnd   = 18
)

// SettingsReader reads tenant-scoped configuration values. Tenant ids are
// always explicit parameters.
type SettingsReader interface {
	GetSetting(ctx context.Context, tenantID int64, group, key, defaultVal string) (string, error)
	GetSettingInt(ctx context.Context, tenantID int64, group, key string, defaultVal int) (int, error)
	GetSettingBool(ctx context.Context, tenantID int64, group, key string, defaultVal bool) (bool, error)
}

// PatternGroup maps a set of shipping-method regexes to a turnaround budget.
type PatternGroup struct {
	Name     string
	Patterns []*regexp.Regexp
	Hours    int
}

// Config is one tenant's resolved SLA calendar. Pattern groups are checked
// in order; the first group with a matching regex wins.
type Config struct {
	Groups       []PatternGroup
	Always24x7   bool
	BusinessDays map[time.Weekday]bool
	// BusinessStart and BusinessEnd bound the working window [start, end)
	// in whole hours of the day.
	BusinessStart int
	BusinessEnd   int
	// Holidays are skipped entirely, keyed "2006-01-02".
	Holidays     map[string]bool
	WarningHours int
}

var defaultPatterns = []struct {
	name     string
	patterns string
	hours    int
}{
	{"same_day", `same.?day`, 8},
	{"overnight", `overnight|next.?day`, 24},
	{"express", `express|priority`, 36},
	{"standard", `standard|flat.?rate`, DefaultHours},
}

// LoadConfig resolves one tenant's SLA configuration. Invalid regexes are
// skipped with a warning so one bad tenant setting cannot take down the
// sync pipeline.
func LoadConfig(ctx context.Context, reader SettingsReader, tenantID int64) (*Config, error) {
	logger := util.GetLogger()

	cfg := &Config{
		BusinessDays: make(map[time.Weekday]bool),
		Holidays:     make(map[string]bool),
	}

	var err error
	if cfg.Always24x7, err = reader.GetSettingBool(ctx, tenantID, settingGroup, "always_24x7", false); err != nil {
		return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
	}
	if cfg.BusinessStart, err = reader.GetSettingInt(ctx, tenantID, settingGroup, "business_start_hour", DefaultBusinessStart); err != nil {
		return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
	}
	if cfg.BusinessEnd, err = reader.GetSettingInt(ctx, tenantID, settingGroup, "business_end_hour", DefaultBusinessEnd); err != nil {
		return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
	}
	if cfg.WarningHours, err = reader.GetSettingInt(ctx, tenantID, settingGroup, "warning_hours", DefaultWarningHours); err != nil {
		return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
	}
	if cfg.BusinessEnd <= cfg.BusinessStart {
		logger.Warn("Invalid business-hours window, using defaults",
			zap.Int64("tenant_id", tenantID),
			zap.Int("start", cfg.BusinessStart),
			zap.Int("end", cfg.BusinessEnd))
		cfg.BusinessStart = DefaultBusinessStart
		cfg.BusinessEnd = DefaultBusinessEnd
	}

	days, err := reader.GetSetting(ctx, tenantID, settingGroup, "business_days", "1,2,3,4,5")
	if err != nil {
		return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
	}
	for _, d := range strings.Split(days, ",") {
		switch strings.TrimSpace(d) {
		case "0":
			cfg.BusinessDays[time.Sunday] = true
		case "1":
			cfg.BusinessDays[time.Monday] = true
		case "2":
			cfg.BusinessDays[time.Tuesday] = true
		case "3":
			cfg.BusinessDays[time.Wednesday] = true
		case "4":
			cfg.BusinessDays[time.Thursday] = true
		case "5":
			cfg.BusinessDays[time.Friday] = true
		case "6":
			cfg.BusinessDays[time.Saturday] = true
		}
	}
	if len(cfg.BusinessDays) == 0 {
		for d := time.Monday; d <= time.Friday; d++ {
			cfg.BusinessDays[d] = true
		}
	}

	holidays, err := reader.GetSetting(ctx, tenantID, settingGroup, "holidays", "")
	if err != nil {
		return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
	}
	for _, h := range strings.Split(holidays, ",") {
		if h = strings.TrimSpace(h); h != "" {
			cfg.Holidays[h] = true
		}
	}

	for _, def := range defaultPatterns {
		raw, err := reader.GetSetting(ctx, tenantID, settingGroup, def.name+"_patterns", def.patterns)
		if err != nil {
			return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
		}
		hours, err := reader.GetSettingInt(ctx, tenantID, settingGroup, def.name+"_hours", def.hours)
		if err != nil {
			return nil, fmt.Errorf("failed to read SLA settings for tenant %d: %w", tenantID, err)
		}

		group := PatternGroup{Name: def.name, Hours: hours}
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				logger.Warn("Skipping invalid SLA shipping pattern",
					zap.Int64("tenant_id", tenantID),
					zap.String("group", def.name),
					zap.String("pattern", p))
				continue
			}
			group.Patterns = append(group.Patterns, re)
		}
		cfg.Groups = append(cfg.Groups, group)
	}

	return cfg, nil
}

// ResolveHours picks the turnaround budget for a shipping method. Groups are
// tried in priority order, first match wins, default 48h.
func (c *Config) ResolveHours(shippingMethod string) int {
	if shippingMethod == "" {
		return DefaultHours
	}
	for _, group := range c.Groups {
		for _, re := range group.Patterns {
			if re.MatchString(shippingMethod) {
				return group.Hours
			}
		}
	}
	return DefaultHours
}

func (c *Config) isBusinessDay(t time.Time) bool {
	return c.BusinessDays[t.Weekday()] && !c.Holidays[t.Format("2006-01-02")]
}

func (c *Config) startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.BusinessStart, 0, 0, 0, t.Location())
}

func (c *Config) endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.BusinessEnd, 0, 0, 0, t.Location())
}

func (c *Config) nextBusinessDayStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for {
		day = day.AddDate(0, 0, 1)
		if c.isBusinessDay(day) {
			return c.startOfDay(day)
		}
	}
}

// snapForward moves a timestamp to the next moment inside a business window.
func (c *Config) snapForward(t time.Time) time.Time {
	if !c.isBusinessDay(t) || !t.Before(c.endOfDay(t)) {
		return c.nextBusinessDayStart(t)
	}
	if t.Before(c.startOfDay(t)) {
		return c.startOfDay(t)
	}
	return t
}

// CalculateWithConfig is the pure deadline computation: deterministic for a
// fixed ordered_at, shipping method, and calendar.
func CalculateWithConfig(cfg *Config, orderedAt *time.Time, shippingMethod string) *time.Time {
	if orderedAt == nil {
		return nil
	}

	budget := time.Duration(cfg.ResolveHours(shippingMethod)) * time.Hour

	if cfg.Always24x7 {
		deadline := orderedAt.Add(budget)
		return &deadline
	}

	cursor := cfg.snapForward(*orderedAt)
	for {
		available := cfg.endOfDay(cursor).Sub(cursor)
		if budget <= available {
			deadline := cursor.Add(budget)
			return &deadline
		}
		budget -= available
		cursor = cfg.nextBusinessDayStart(cursor)
	}
}

// Calculator resolves SLA deadlines against per-tenant settings.
type Calculator struct {
	reader SettingsReader
	logger *zap.Logger
}

// NewCalculator creates a calculator backed by the given settings reader
func NewCalculator(reader SettingsReader) *Calculator {
	return &Calculator{
		reader: reader,
		logger: util.GetLogger(),
	}
}

// CalculateDeadline computes the shipping deadline for an order. A nil
// ordered_at yields a nil deadline with no error.
func (c *Calculator) CalculateDeadline(ctx context.Context, tenantID int64, orderedAt *time.Time, shippingMethod string) (*time.Time, error) {
	if orderedAt == nil {
		return nil, nil
	}

	cfg, err := LoadConfig(ctx, c.reader, tenantID)
	if err != nil {
		return nil, err
	}

	return CalculateWithConfig(cfg, orderedAt, shippingMethod), nil
}
