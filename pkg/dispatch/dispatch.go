// Package dispatch submits action-node messages through a messaging
// provider, honoring rate limits and send windows.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/ratelimit"
	"github.com/voyagerhq/voyager/pkg/template"
)

// Result reports what happened to one send attempt. Deferred results
// carry the earliest time the send may be retried; they are not errors.
type Result struct {
	MessageID   string
	SubmittedAt time.Time
	Deferred    bool
	RetryAt     time.Time
	DeferReason string
	Issues      []template.Issue
}

type Dispatcher struct {
	provider Provider
	limiter  ratelimit.Limiter
	logger   *slog.Logger
}

func NewDispatcher(provider Provider, limiter ratelimit.Limiter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		limiter:  limiter,
		logger:   logger.With("module", "dispatch"),
	}
}

// Send resolves variables, acquires rate permits, checks the send
// window, and submits the message. A denied permit or a closed window
// returns a deferred result rather than an error. Provider errors are
// returned as-is so the caller can distinguish transient from permanent.
func (d *Dispatcher) Send(
	ctx context.Context,
	journeyID string,
	config *models.ActionConfig,
	snapshot *models.CustomerSnapshot,
	now time.Time,
) (*Result, error) {
	variables, issues := template.ResolveVariables(config.Variables, snapshot)

	if deferred := d.checkWindow(config.SendWindow, snapshot, now); deferred != nil {
		deferred.Issues = issues

		return deferred, nil
	}

	if deferred, err := d.acquirePermits(ctx, journeyID, snapshot.CustomerID, config.RateLimits, now); err != nil {
		return nil, err
	} else if deferred != nil {
		deferred.Issues = issues

		return deferred, nil
	}

	submission, err := d.provider.Send(ctx, &SendRequest{
		CustomerID: snapshot.CustomerID,
		Phone:      snapshot.Phone,
		TemplateID: config.TemplateID,
		Body:       config.Body,
		Variables:  variables,
		Buttons:    config.Buttons,
	})
	if err != nil {
		return nil, fmt.Errorf("provider send failed: %w", err)
	}

	d.logger.InfoContext(ctx, "message submitted",
		"customer_id", snapshot.CustomerID,
		"template_id", config.TemplateID,
		"message_id", submission.MessageID,
	)

	return &Result{
		MessageID:   submission.MessageID,
		SubmittedAt: submission.SubmittedAt,
		Issues:      issues,
	}, nil
}

func (d *Dispatcher) acquirePermits(
	ctx context.Context,
	journeyID, customerID string,
	limits models.RateLimits,
	now time.Time,
) (*Result, error) {
	journeyLimits := models.RateLimits{
		MaxPerDay:  limits.MaxPerDay,
		MaxPerWeek: limits.MaxPerWeek,
	}
	journeyScope := ratelimit.JourneyScope(journeyID)

	decision, err := d.limiter.Acquire(ctx, journeyScope, journeyLimits, now)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rate permit: %w", err)
	}

	if !decision.Allowed {
		return deferredPermit(decision, journeyScope), nil
	}

	customerLimits := models.RateLimits{
		MaxPerDay:  limits.MaxPerCustomerPerDay,
		MaxPerWeek: limits.MaxPerCustomerPerWeek,
	}
	customerScope := ratelimit.CustomerScope(journeyID, customerID)

	decision, err = d.limiter.Acquire(ctx, customerScope, customerLimits, now)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rate permit: %w", err)
	}

	if !decision.Allowed {
		// Hand back the journey slot so one capped customer does not
		// burn journey capacity other customers could use.
		if rerr := d.limiter.Release(ctx, journeyScope, journeyLimits, now); rerr != nil {
			return nil, fmt.Errorf("failed to return journey permit: %w", rerr)
		}

		return deferredPermit(decision, customerScope), nil
	}

	return nil, nil
}

func deferredPermit(decision ratelimit.Decision, scope string) *Result {
	return &Result{
		Deferred:    true,
		RetryAt:     decision.RetryAt,
		DeferReason: "rate limit reached for " + scope,
	}
}

func (d *Dispatcher) checkWindow(window models.SendWindow, snapshot *models.CustomerSnapshot, now time.Time) *Result {
	if !window.Enabled {
		return nil
	}

	loc := windowLocation(window, snapshot)
	local := now.In(loc)

	open, nextOpen := windowState(window, local)
	if open {
		return nil
	}

	return &Result{
		Deferred:    true,
		RetryAt:     nextOpen.UTC(),
		DeferReason: "outside send window",
	}
}

func windowLocation(window models.SendWindow, snapshot *models.CustomerSnapshot) *time.Location {
	if window.TimezoneMode == "customer" && snapshot.Timezone != "" {
		if loc, err := time.LoadLocation(snapshot.Timezone); err == nil {
			return loc
		}
	}

	if window.Timezone != "" {
		if loc, err := time.LoadLocation(window.Timezone); err == nil {
			return loc
		}
	}

	return time.UTC
}

// windowState reports whether local falls inside the window and, when it
// does not, the next opening. Windows whose end precedes their start
// cross midnight.
func windowState(window models.SendWindow, local time.Time) (bool, time.Time) {
	startH, startM := parseClock(window.Start, 0, 0)
	endH, endM := parseClock(window.End, 23, 59)

	for day := range 8 {
		candidate := local.AddDate(0, 0, day)
		if !dayAllowed(window.Days, candidate.Weekday()) {
			continue
		}

		start := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), startH, startM, 0, 0, local.Location())
		end := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), endH, endM, 0, 0, local.Location())

		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}

		if day == 0 && !local.Before(start) && local.Before(end) {
			return true, time.Time{}
		}

		if start.After(local) {
			return false, start
		}
	}

	// No allowed day in the next week means the window is misconfigured;
	// fall back to tomorrow so the enrollment keeps making progress.
	return false, local.AddDate(0, 0, 1)
}

func dayAllowed(days []time.Weekday, day time.Weekday) bool {
	if len(days) == 0 {
		return true
	}

	for _, allowed := range days {
		if allowed == day {
			return true
		}
	}

	return false
}

func parseClock(clock string, defaultHour, defaultMinute int) (int, int) {
	var hour, minute int

	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		return defaultHour, defaultMinute
	}

	return hour, minute
}

// Route is where an enrollment goes after a message outcome.
type Route struct {
	Handle string
	Exit   bool
}

// ResolveOutcome maps a provider outcome to the enrollment's next hop.
// An enabled exit path overrides the outcome's default handle.
func ResolveOutcome(config *models.ActionConfig, outcome models.Outcome, buttonID string) Route {
	handle := string(outcome)
	if outcome == models.OutcomeButtonClicked {
		handle = models.ButtonHandle(buttonID)
	}

	path, ok := config.ExitPaths[outcome]
	if !ok || !path.Enabled {
		return Route{Handle: handle}
	}

	switch path.Action {
	case models.FallbackExit:
		return Route{Exit: true}
	case models.FallbackBranch:
		if path.BranchID != "" {
			return Route{Handle: path.BranchID}
		}
	case models.FallbackContinue:
		return Route{Handle: models.HandleNext}
	}

	return Route{Handle: handle}
}
