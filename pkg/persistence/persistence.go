// Package persistence provides the data storage abstraction for journeys,
// enrollments and the activity log.
package persistence

import (
	"context"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// Persistence is the root storage interface handed to the binaries.
type Persistence interface {
	Journeys() JourneyRepository
	Enrollments() EnrollmentRepository
	Activity() ActivityRepository

	// ApplyTransition persists an enrollment mutation together with its
	// activity records in one atomic step, guarded by the optimistic
	// version the caller read. ErrVersionConflict means another worker
	// (or a manual operation) got there first; the caller re-reads and
	// re-decides rather than overwriting.
	ApplyTransition(ctx context.Context, enrollment *models.Enrollment, expectedVersion int64, records []*models.ActivityRecord) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// JourneyRepository stores journey definitions. The engine reads them;
// only the publish API writes them.
type JourneyRepository interface {
	Save(ctx context.Context, journey *models.Journey) error
	GetByID(ctx context.Context, id string) (*models.Journey, error)
	ListPublished(ctx context.Context) ([]*models.Journey, error)
}

// ListEnrollmentsOptions filters and paginates enrollment listings.
type ListEnrollmentsOptions struct {
	JourneyID string
	Status    *models.EnrollmentStatus
	Limit     int
	Offset    int
}

// EnrollmentPage is one page of an enrollment listing.
type EnrollmentPage struct {
	Enrollments []*models.Enrollment
	TotalCount  int64
	HasNextPage bool
}

// EntryStats summarizes a customer's entry history for one journey, used
// by the trigger evaluator's entry-frequency rules.
type EntryStats struct {
	NonExited     int // Enrollments in any status except exited
	Total         int
	LastEnteredAt *time.Time
}

// EnrollmentRepository stores per-customer journey progress. It is the
// single source of truth for "where is this customer right now".
type EnrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	GetByID(ctx context.Context, id string) (*models.Enrollment, error)
	List(ctx context.Context, opts ListEnrollmentsOptions) (*EnrollmentPage, error)

	// ClaimDue atomically leases up to limit enrollments that are due
	// (active, or waiting with wake_at <= now) and not already leased.
	// No two workers can claim the same enrollment while a lease holds.
	ClaimDue(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]*models.Enrollment, error)

	// EntryStatsFor reports the customer's entry history for a journey.
	EntryStatsFor(ctx context.Context, journeyID, customerID string) (*EntryStats, error)

	// FindByMessageID locates the enrollment awaiting a delivery outcome
	// for the given provider message id.
	FindByMessageID(ctx context.Context, messageID string) (*models.Enrollment, error)

	// WaitingForEvent lists waiting enrollments whose delay node is
	// waiting on the named external event.
	WaitingForEvent(ctx context.Context, eventName string, limit int) ([]*models.Enrollment, error)

	// WaitingForAttribute lists waiting enrollments watching an
	// attribute path.
	WaitingForAttribute(ctx context.Context, attributePath string, limit int) ([]*models.Enrollment, error)

	// RegisterEntry records a trigger idempotency key. The second return
	// is false when the key was already registered, in which case no new
	// enrollment may be created for it.
	RegisterEntry(ctx context.Context, idempotencyKey, enrollmentID string) (bool, error)
}

// ActivityListOptions paginates and filters an enrollment's activity feed.
type ActivityListOptions struct {
	EventType *models.ActivityEventType
	Limit     int
	Offset    int
}

// ActivityRepository is the append-only transition log. Records are never
// mutated or deleted.
type ActivityRepository interface {
	Append(ctx context.Context, record *models.ActivityRecord) error

	// ListByEnrollment returns records newest first.
	ListByEnrollment(ctx context.Context, enrollmentID string, opts ActivityListOptions) ([]*models.ActivityRecord, error)
}
