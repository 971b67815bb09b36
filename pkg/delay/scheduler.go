// Package delay computes wake times for waiting enrollments. The
// scheduler holds no per-enrollment state: suspension is always a stored
// wake time, never a parked goroutine.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagerhq/voyager/pkg/conditions"
	"github.com/voyagerhq/voyager/pkg/models"
)

// Decision is the outcome of evaluating a delay policy.
type Decision struct {
	// WakeAt is set when the enrollment should sleep until that instant.
	WakeAt *time.Time

	// Resume is set when no wait is needed and the main path continues now.
	Resume bool

	// Warning is populated for continue-with-warning outcomes, for the
	// activity log.
	Warning string
}

// SendStatsSource provides the historically best send hour for a customer,
// used by optimal_send_time. The second return is false when no history
// exists.
type SendStatsSource interface {
	BestSendHour(ctx context.Context, customerID string) (int, bool, error)
}

// Scheduler computes wake times from delay policies and a calendar.
type Scheduler struct {
	stats SendStatsSource
}

func NewScheduler(stats SendStatsSource) *Scheduler {
	return &Scheduler{stats: stats}
}

// Enter computes the initial wait when an enrollment arrives at a delay
// node. Calendar adjustments are applied as a final pass after the
// type-specific wake time, never before, and only ever move it forward.
func (s *Scheduler) Enter(
	ctx context.Context,
	config *models.DelayConfig,
	enteredAt, now time.Time,
	snapshot *models.CustomerSnapshot,
) (Decision, error) {
	switch config.DelayType {
	case models.DelayFixedTime:
		wake := config.Calendar.Apply(enteredAt.Add(config.Duration))

		return Decision{WakeAt: &wake}, nil
	case models.DelayWaitUntilTime:
		return s.waitUntilTime(config, now, snapshot)
	case models.DelayWaitForEvent:
		// The enrollment sleeps until the timeout; a matching external
		// event resumes it earlier through the ingest path.
		wake := enteredAt.Add(config.MaxWaitTime)

		return Decision{WakeAt: &wake}, nil
	case models.DelayWaitForAttribute:
		// The awaited value may already hold at entry. Attribute-change
		// events only wake enrollments on a change, so without this check
		// an already-satisfied customer would wait out the full timeout.
		if attributeSatisfied(config, snapshot) {
			return Decision{Resume: true}, nil
		}

		wake := enteredAt.Add(config.MaxWaitTime)

		return Decision{WakeAt: &wake}, nil
	case models.DelayOptimalSendTime:
		return s.optimalSendTime(ctx, config, now, snapshot)
	default:
		return Decision{}, fmt.Errorf("unknown delay type %q", config.DelayType)
	}
}

func (s *Scheduler) waitUntilTime(
	config *models.DelayConfig,
	now time.Time,
	snapshot *models.CustomerSnapshot,
) (Decision, error) {
	location := resolveLocation(config, snapshot)

	target, err := clockToday(config.TargetTime, now.In(location))
	if err != nil {
		return Decision{}, fmt.Errorf("invalid target_time: %w", err)
	}

	if target.After(now) {
		wake := config.Calendar.Apply(target)

		return Decision{WakeAt: &wake}, nil
	}

	// The target time-of-day already passed today.
	policy := config.IfPassed
	if policy == "" {
		policy = models.IfPassedWaitTomorrow
	}

	switch policy {
	case models.IfPassedWaitTomorrow:
		wake := config.Calendar.Apply(target.AddDate(0, 0, 1))

		return Decision{WakeAt: &wake}, nil
	case models.IfPassedSkip:
		return Decision{Resume: true}, nil
	case models.IfPassedContinue:
		return Decision{Resume: true, Warning: "target time already passed, continuing without wait"}, nil
	default:
		return Decision{}, fmt.Errorf("unknown if_passed policy %q", policy)
	}
}

func (s *Scheduler) optimalSendTime(
	ctx context.Context,
	config *models.DelayConfig,
	now time.Time,
	snapshot *models.CustomerSnapshot,
) (Decision, error) {
	location := resolveLocation(config, snapshot)
	local := now.In(location)

	hour := -1

	if s.stats != nil {
		best, found, err := s.stats.BestSendHour(ctx, snapshot.CustomerID)
		if err != nil {
			return Decision{}, fmt.Errorf("send stats lookup failed: %w", err)
		}

		if found && s.hourInWindow(config, best) {
			hour = best
		}
	}

	var target time.Time

	if hour >= 0 {
		target = time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, location)
	} else {
		fallback, err := clockToday(config.FallbackTime, local)
		if err != nil {
			return Decision{}, fmt.Errorf("invalid fallback_time: %w", err)
		}

		target = fallback
	}

	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}

	wake := config.Calendar.Apply(target)

	return Decision{WakeAt: &wake}, nil
}

// hourInWindow reports whether an hour falls inside the configured
// optimisation window. An unset window allows every hour.
func (s *Scheduler) hourInWindow(config *models.DelayConfig, hour int) bool {
	if config.WindowStart == "" || config.WindowEnd == "" {
		return true
	}

	start, err := parseHour(config.WindowStart)
	if err != nil {
		return true
	}

	end, err := parseHour(config.WindowEnd)
	if err != nil {
		return true
	}

	if start <= end {
		return hour >= start && hour < end
	}

	return hour >= start || hour < end
}

// attributeSatisfied reports whether the snapshot already carries the
// awaited attribute value, using the same comparison the resume path uses.
func attributeSatisfied(config *models.DelayConfig, snapshot *models.CustomerSnapshot) bool {
	if snapshot == nil || config.AttributePath == "" {
		return false
	}

	group := &models.RuleGroup{
		Conditions: []*models.RuleCondition{{
			Property: config.AttributePath,
			Operator: models.OpEquals,
			Value:    config.TargetValue,
		}},
	}

	matched, _ := conditions.EvaluateRules(group, snapshot)

	return matched
}

// OnTimeout resolves what a timed-out wait does. Only meaningful for the
// wait_for_event and wait_for_attribute variants.
func OnTimeout(config *models.DelayConfig) models.TimeoutBehavior {
	if config.OnTimeout == "" {
		return models.TimeoutContinue
	}

	return config.OnTimeout
}

func resolveLocation(config *models.DelayConfig, snapshot *models.CustomerSnapshot) *time.Location {
	if snapshot != nil && snapshot.Timezone != "" {
		if loc, err := time.LoadLocation(snapshot.Timezone); err == nil {
			return loc
		}
	}

	if loc, err := config.Calendar.Location(); err == nil {
		return loc
	}

	return time.UTC
}

// clockToday returns today's date (relative to ref) at the "HH:MM" clock.
func clockToday(clock string, ref time.Time) (time.Time, error) {
	var hour, minute int

	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("cannot parse clock %q: %w", clock, err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("clock %q out of range", clock)
	}

	return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location()), nil
}

func parseHour(clock string) (int, error) {
	var hour, minute int

	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		return 0, err
	}

	return hour, nil
}
