package report

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"vaskito/backend/internal/cache"
	"vaskito/backend/internal/domain"
)

const (
	defaultActivityLimit = 5
	dayLayout            = "2006-01-02"
)

// Source is the slice of the repository the dashboard reads from.
type Source interface {
	SumOutstandingDebt(ctx context.Context) (decimal.Decimal, error)
	SumCollectedSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	ListActivity(ctx context.Context, limit int) ([]domain.Activity, error)
}

type Engine struct {
	source        Source
	cache         cache.SummaryCache
	cacheTTL      time.Duration
	location      *time.Location
	activityLimit int
	now           func() time.Time
}

func NewEngine(source Source, cacheStore cache.SummaryCache, cacheTTL time.Duration, location *time.Location) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	if location == nil {
		location = time.UTC
	}

	return &Engine{
		source:        source,
		cache:         cacheStore,
		cacheTTL:      cacheTTL,
		location:      location,
		activityLimit: defaultActivityLimit,
		now:           time.Now,
	}
}

// Summary returns the route dashboard for the current local day. A cache
// failure falls through to a recompute.
func (e *Engine) Summary(ctx context.Context) (domain.Summary, error) {
	now := e.now().In(e.location)
	day := now.Format(dayLayout)
	key := cacheKey(day)

	if cached, ok, err := e.cache.Get(ctx, key); err != nil {
		log.Printf("[report] WARN: summary cache read failed: %v", err)
	} else if ok {
		return *cached, nil
	}

	outstanding, err := e.source.SumOutstandingDebt(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	collected, err := e.source.SumCollectedSince(ctx, StartOfDay(now, e.location))
	if err != nil {
		return domain.Summary{}, err
	}
	activity, err := e.source.ListActivity(ctx, e.activityLimit)
	if err != nil {
		return domain.Summary{}, err
	}

	summary := domain.Summary{
		OutstandingDebt:   outstanding,
		CollectedToday:    collected,
		CollectionPercent: CollectionPercent(collected, outstanding),
		RecentActivity:    activity,
		Day:               day,
		GeneratedAt:       now.UTC(),
	}

	if err := e.cache.Set(ctx, key, &summary, e.cacheTTL); err != nil {
		log.Printf("[report] WARN: summary cache write failed: %v", err)
	}
	return summary, nil
}

// Invalidate drops the cached summary for the current day.
func (e *Engine) Invalidate(ctx context.Context) {
	day := e.now().In(e.location).Format(dayLayout)
	if err := e.cache.Delete(ctx, cacheKey(day)); err != nil {
		log.Printf("[report] WARN: summary cache invalidation failed: %v", err)
	}
}

// CollectionPercent is collected / (collected + outstanding) as a rounded
// percentage. With nothing collected and nothing owed the route is at 100.
func CollectionPercent(collected decimal.Decimal, outstanding decimal.Decimal) int {
	base := collected.Add(outstanding)
	if !base.IsPositive() {
		return 100
	}
	return int(collected.Mul(decimal.NewFromInt(100)).Div(base).Round(0).IntPart())
}

// StartOfDay is local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func cacheKey(day string) string {
	return "summary:" + day
}
