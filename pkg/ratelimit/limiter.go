// Package ratelimit grants send permits against per-journey and
// per-customer caps. Counters are shared across workers and updated
// atomically, so concurrent dispatch never exceeds provider-level caps.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// Decision is the result of a permit request. A denied permit is not a
// failure: RetryAt is the next window boundary at which capacity can
// exist again, and the enrollment defers to it.
type Decision struct {
	Allowed bool
	RetryAt time.Time
}

// Limiter grants or denies send permits for a scope (a journey or a
// customer+journey pair) against fixed daily/weekly windows. Release
// hands an acquired permit back when a later scope in the same send is
// denied, so one scope's denial does not burn another scope's capacity.
type Limiter interface {
	Acquire(ctx context.Context, scope string, limits models.RateLimits, now time.Time) (Decision, error)
	Release(ctx context.Context, scope string, limits models.RateLimits, now time.Time) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// JourneyScope keys the per-journey counters.
func JourneyScope(journeyID string) string {
	return "journey:" + journeyID
}

// CustomerScope keys the per-customer-per-journey counters.
func CustomerScope(journeyID, customerID string) string {
	return "journey:" + journeyID + ":customer:" + customerID
}

// dayKey and weekKey identify the fixed windows. Windows are UTC-aligned
// so every worker agrees on the boundary.
func dayKey(scope string, now time.Time) string {
	return "voyager:rl:" + scope + ":d:" + now.UTC().Format("2006-01-02")
}

func weekKey(scope string, now time.Time) string {
	year, week := now.UTC().ISOWeek()

	return "voyager:rl:" + scope + ":w:" + strconv.Itoa(year) + "-" + strconv.Itoa(week)
}

// nextDay is the start of the next UTC day.
func nextDay(now time.Time) time.Time {
	utc := now.UTC()

	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// nextWeek is the start of the next ISO week (Monday 00:00 UTC).
func nextWeek(now time.Time) time.Time {
	utc := now.UTC()
	day := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)

	daysUntilMonday := (int(time.Monday) - int(day.Weekday()) + 7) % 7
	if daysUntilMonday == 0 {
		daysUntilMonday = 7
	}

	return day.AddDate(0, 0, daysUntilMonday)
}
