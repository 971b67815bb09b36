package models

import (
	"time"

	"github.com/voyagerhq/voyager/pkg/calendar"
)

// DelayType discriminates the delay policy variants.
type DelayType string

const (
	DelayFixedTime        DelayType = "fixed_time"
	DelayWaitUntilTime    DelayType = "wait_until_time"
	DelayWaitForEvent     DelayType = "wait_for_event"
	DelayOptimalSendTime  DelayType = "optimal_send_time"
	DelayWaitForAttribute DelayType = "wait_for_attribute"
)

// IfPassedPolicy decides what wait_until_time does when the target
// time-of-day already passed today.
type IfPassedPolicy string

const (
	IfPassedWaitTomorrow IfPassedPolicy = "wait_tomorrow"
	IfPassedSkip         IfPassedPolicy = "skip"
	IfPassedContinue     IfPassedPolicy = "continue_warn"
)

// TimeoutBehavior decides what happens when a wait_for_event or
// wait_for_attribute delay times out.
type TimeoutBehavior string

const (
	TimeoutContinue TimeoutBehavior = "continue" // Follow the resumed handle
	TimeoutExit     TimeoutBehavior = "exit"     // Terminate the enrollment as exited
	TimeoutBranch   TimeoutBehavior = "branch"   // Follow the timeout handle
)

// DelayConfig is the config blob of a delay node: one type-specific field
// group selected by DelayType, plus orthogonal calendar adjustments that
// are applied as a final pass after the type-specific wake time.
type DelayConfig struct {
	DelayType DelayType `json:"delay_type" validate:"required"`

	// fixed_time.
	Duration time.Duration `json:"duration,omitempty"`

	// wait_until_time.
	TargetTime string         `json:"target_time,omitempty"` // "HH:MM"
	IfPassed   IfPassedPolicy `json:"if_passed,omitempty"`

	// wait_for_event.
	EventName   string     `json:"event_name,omitempty"`
	EventFilter *RuleGroup `json:"event_filter,omitempty"`

	// wait_for_attribute.
	AttributePath string `json:"attribute_path,omitempty"`
	TargetValue   any    `json:"target_value,omitempty"`

	// Shared by the waiting variants.
	MaxWaitTime time.Duration   `json:"max_wait_time,omitempty"`
	OnTimeout   TimeoutBehavior `json:"on_timeout,omitempty"`

	// optimal_send_time.
	WindowStart  string `json:"window_start,omitempty"`  // "HH:MM"
	WindowEnd    string `json:"window_end,omitempty"`    // "HH:MM"
	FallbackTime string `json:"fallback_time,omitempty"` // "HH:MM", used when no send history exists

	Calendar calendar.Adjustments `json:"calendar"`
}
