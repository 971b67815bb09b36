package models

import "time"

// Outcome is a messaging provider's terminal result for one send.
type Outcome string

const (
	OutcomeDelivered     Outcome = "delivered"
	OutcomeRead          Outcome = "read"
	OutcomeReplied       Outcome = "replied"
	OutcomeFailed        Outcome = "failed"
	OutcomeUnreachable   Outcome = "unreachable"
	OutcomeButtonClicked Outcome = "button_clicked"
)

// VariableMapping binds one template variable to a customer data source.
// Fallback is mandatory: a variable is never sent as its own placeholder.
type VariableMapping struct {
	Variable string `json:"variable"  validate:"required"`
	Source   string `json:"source"`   // Dotted path into the customer snapshot, e.g. "attributes.first_name"
	Fallback string `json:"fallback"  validate:"required"`
}

// SendWindow restricts when a message may be submitted. Outside the
// window the send defers to the next opening; it is never dropped.
type SendWindow struct {
	Enabled      bool           `json:"enabled"`
	Days         []time.Weekday `json:"days,omitempty"` // Allowed days; empty means all days
	Start        string         `json:"start,omitempty"` // "HH:MM"
	End          string         `json:"end,omitempty"`   // "HH:MM"
	TimezoneMode string         `json:"timezone_mode,omitempty"` // "customer" or "fixed"
	Timezone     string         `json:"timezone,omitempty"`      // IANA name when fixed
}

// RateLimits caps sends per journey and per customer within a journey.
// A denied permit defers the send to the limiter's next window; it is
// not a failure. Zero values mean uncapped.
type RateLimits struct {
	MaxPerDay             int `json:"max_per_day,omitempty"`
	MaxPerWeek            int `json:"max_per_week,omitempty"`
	MaxPerCustomerPerDay  int `json:"max_per_customer_per_day,omitempty"`
	MaxPerCustomerPerWeek int `json:"max_per_customer_per_week,omitempty"`
}

// FallbackBehavior is what a node does after exhausting its retries.
type FallbackBehavior string

const (
	FallbackContinue FallbackBehavior = "continue"
	FallbackExit     FallbackBehavior = "exit"
	FallbackBranch   FallbackBehavior = "branch"
)

// FailureHandling is the per-node retry policy for transient errors.
type FailureHandling struct {
	RetryCount     int              `json:"retry_count"`
	RetryDelay     time.Duration    `json:"retry_delay,omitempty"`
	FallbackAction FallbackBehavior `json:"fallback_action,omitempty"`
	BranchID       string           `json:"branch_id,omitempty"` // Target handle when FallbackAction is branch
}

// ExitPath maps one provider outcome to a routing decision.
type ExitPath struct {
	Enabled  bool             `json:"enabled"`
	Action   FallbackBehavior `json:"action,omitempty"`
	BranchID string           `json:"branch_id,omitempty"`
}

// Button is a quick-reply button on the template; each gets its own handle.
type Button struct {
	ID    string `json:"id"    validate:"required"`
	Label string `json:"label"`
}

// ActionConfig is the config blob of a messaging action node.
type ActionConfig struct {
	TemplateID string            `json:"template_id" validate:"required"`
	Body       string            `json:"body,omitempty"`
	Variables  []VariableMapping `json:"variables,omitempty"  validate:"dive"`
	Buttons    []Button          `json:"buttons,omitempty"    validate:"dive"`

	SendWindow      SendWindow          `json:"send_window"`
	RateLimits      RateLimits          `json:"rate_limits"`
	FailureHandling FailureHandling     `json:"failure_handling"`
	ExitPaths       map[Outcome]ExitPath `json:"exit_paths,omitempty"`

	// OutcomeTimeout bounds how long the enrollment waits for a delivery
	// webhook before following the failure handling path.
	OutcomeTimeout time.Duration `json:"outcome_timeout,omitempty"`
}
