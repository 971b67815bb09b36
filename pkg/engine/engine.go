// Package engine advances enrollments through published journeys. It is
// the only component that moves an enrollment between nodes; everything
// else either feeds it events or reads its output.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voyagerhq/voyager/pkg/conditions"
	"github.com/voyagerhq/voyager/pkg/delay"
	"github.com/voyagerhq/voyager/pkg/dispatch"
	"github.com/voyagerhq/voyager/pkg/eventbus"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
	"go.opentelemetry.io/otel/trace"
)

// CustomerSource resolves customer snapshots for condition evaluation and
// message personalization.
type CustomerSource interface {
	Snapshot(ctx context.Context, customerID string) (*models.CustomerSnapshot, error)
}

// Config tunes the tick loop. Zero values take the defaults.
type Config struct {
	TickInterval   time.Duration
	BatchSize      int
	LeaseDuration  time.Duration
	Concurrency    int
	MaxHopsPerTick int

	// Transient-failure retry defaults for nodes without their own policy.
	RetryBase  time.Duration
	RetryCount int

	// How long an action node waits for a delivery webhook before moving on.
	DefaultOutcomeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}

	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 30 * time.Second
	}

	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}

	if c.MaxHopsPerTick <= 0 {
		c.MaxHopsPerTick = 25
	}

	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}

	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}

	if c.DefaultOutcomeTimeout <= 0 {
		c.DefaultOutcomeTimeout = 72 * time.Hour
	}
}

type Engine struct {
	workerID    string
	persistence persistence.Persistence
	customers   CustomerSource
	conditions  *conditions.Evaluator
	delays      *delay.Scheduler
	dispatcher  *dispatch.Dispatcher
	publisher   eventbus.EventPublisher
	config      Config
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewEngine(
	workerID string,
	p persistence.Persistence,
	customers CustomerSource,
	conditionEval *conditions.Evaluator,
	delays *delay.Scheduler,
	dispatcher *dispatch.Dispatcher,
	publisher eventbus.EventPublisher,
	config Config,
	logger *slog.Logger,
) *Engine {
	config.applyDefaults()

	return &Engine{
		workerID:    workerID,
		persistence: p,
		customers:   customers,
		conditions:  conditionEval,
		delays:      delays,
		dispatcher:  dispatcher,
		publisher:   publisher,
		config:      config,
		logger:      logger.With("module", "engine", "worker_id", workerID),
	}
}

// WithTracer enables per-enrollment spans around processing.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	e.tracer = tracer

	return e
}

// Run ticks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine started",
		"tick_interval", e.config.TickInterval,
		"batch_size", e.config.BatchSize,
		"concurrency", e.config.Concurrency,
	)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "engine stopped")

			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick claims one batch of due enrollments and processes them with
// bounded concurrency. Exported so tests can drive the engine without
// the timer.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	claimed, err := e.persistence.Enrollments().ClaimDue(
		ctx, e.workerID, now, e.config.LeaseDuration, e.config.BatchSize,
	)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to claim due enrollments", "error", err)

		return
	}

	if len(claimed) == 0 {
		return
	}

	var wg sync.WaitGroup

	sem := make(chan struct{}, e.config.Concurrency)

	for _, enrollment := range claimed {
		wg.Add(1)
		sem <- struct{}{}

		go func(enrollment *models.Enrollment) {
			defer wg.Done()
			defer func() { <-sem }()

			e.Process(ctx, enrollment, now)
		}(enrollment)
	}

	wg.Wait()
}
