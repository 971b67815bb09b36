// Package main runs the ingest service: it consumes normalized customer
// events from the bus, evaluates journey triggers, and resumes waiting
// enrollments.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voyagerhq/voyager/pkg/eventbus"
	"github.com/voyagerhq/voyager/pkg/events"
	"github.com/voyagerhq/voyager/pkg/triggers"
)

type Ingest struct {
	evaluator *triggers.Evaluator
	customers triggers.CustomerSource
	eventBus  eventbus.EventBus
	logger    *slog.Logger
}

func NewIngest(
	evaluator *triggers.Evaluator,
	customers triggers.CustomerSource,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Ingest {
	return &Ingest{
		evaluator: evaluator,
		customers: customers,
		eventBus:  eventBus,
		logger:    logger,
	}
}

// Start registers the customer event handler and blocks until the
// context is cancelled.
func (i *Ingest) Start(ctx context.Context) error {
	err := i.eventBus.Handle(events.CustomerEventReceived, func(ctx context.Context, event any) error {
		received, ok := event.(*events.CustomerEvent)
		if !ok || received.Event == nil {
			i.logger.WarnContext(ctx, "dropping malformed customer event")

			return nil
		}

		if err := i.evaluator.HandleEvent(ctx, received.Event); err != nil {
			return err
		}

		i.resumeAttributeWaits(ctx, received)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register customer event handler: %w", err)
	}

	if err := i.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	i.logger.InfoContext(ctx, "ingest started")

	<-ctx.Done()

	return ctx.Err()
}

// resumeAttributeWaits wakes wait_for_attribute enrollments when the
// event announces changed attribute paths.
func (i *Ingest) resumeAttributeWaits(ctx context.Context, received *events.CustomerEvent) {
	event := received.Event

	changed, ok := event.Payload["changed_attributes"].([]any)
	if !ok || len(changed) == 0 {
		return
	}

	snapshot, err := i.customers.Snapshot(ctx, event.CustomerID)
	if err != nil {
		i.logger.ErrorContext(ctx, "failed to load snapshot for attribute resume",
			"customer_id", event.CustomerID, "error", err)

		return
	}

	for _, raw := range changed {
		path, ok := raw.(string)
		if !ok {
			continue
		}

		if err := i.evaluator.ResumeForAttribute(ctx, snapshot, path); err != nil {
			i.logger.ErrorContext(ctx, "attribute resume failed",
				"customer_id", event.CustomerID, "path", path, "error", err)
		}
	}
}
