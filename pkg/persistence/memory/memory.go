// Package memory provides an in-process persistence implementation with
// the same claim/version semantics as the PostgreSQL layer. It backs unit
// tests and single-process development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

type lease struct {
	owner string
	until time.Time
}

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	mu          sync.Mutex
	journeys    map[string]*models.Journey
	enrollments map[string]*models.Enrollment
	activity    []*models.ActivityRecord
	entryKeys   map[string]string
	leases      map[string]lease
}

func NewPersistence() *Persistence {
	return &Persistence{
		journeys:    make(map[string]*models.Journey),
		enrollments: make(map[string]*models.Enrollment),
		entryKeys:   make(map[string]string),
		leases:      make(map[string]lease),
	}
}

func (p *Persistence) Journeys() persistence.JourneyRepository       { return (*journeyRepo)(p) }
func (p *Persistence) Enrollments() persistence.EnrollmentRepository { return (*enrollmentRepo)(p) }
func (p *Persistence) Activity() persistence.ActivityRepository      { return (*activityRepo)(p) }

func (p *Persistence) ApplyTransition(
	_ context.Context,
	enrollment *models.Enrollment,
	expectedVersion int64,
	records []*models.ActivityRecord,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.enrollments[enrollment.ID]
	if !ok {
		return persistence.ErrEnrollmentNotFound
	}

	if stored.Version != expectedVersion {
		return persistence.ErrVersionConflict
	}

	updated := cloneEnrollment(enrollment)
	updated.Version = expectedVersion + 1
	p.enrollments[enrollment.ID] = updated
	enrollment.Version = updated.Version

	delete(p.leases, enrollment.ID)

	for _, record := range records {
		p.appendLocked(record)
	}

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

// journeyRepo

type journeyRepo Persistence

func (r *journeyRepo) Save(_ context.Context, journey *models.Journey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	if journey.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate journey ID: %w", err)
		}

		journey.ID = id.String()
	}

	r.journeys[journey.ID] = journey

	return nil
}

func (r *journeyRepo) GetByID(_ context.Context, id string) (*models.Journey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	journey, ok := r.journeys[id]
	if !ok {
		return nil, persistence.ErrJourneyNotFound
	}

	return journey, nil
}

func (r *journeyRepo) ListPublished(_ context.Context) ([]*models.Journey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	published := make([]*models.Journey, 0)

	for _, journey := range r.journeys {
		if journey.Status == models.JourneyStatusPublished {
			published = append(published, journey)
		}
	}

	sort.Slice(published, func(i, j int) bool {
		return published[i].CreatedAt.After(published[j].CreatedAt)
	})

	return published, nil
}

// enrollmentRepo

type enrollmentRepo Persistence

func (r *enrollmentRepo) Create(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enrollment.Version == 0 {
		enrollment.Version = 1
	}

	if _, exists := r.enrollments[enrollment.ID]; exists {
		return fmt.Errorf("enrollment %s already exists", enrollment.ID)
	}

	r.enrollments[enrollment.ID] = cloneEnrollment(enrollment)

	return nil
}

func (r *enrollmentRepo) GetByID(_ context.Context, id string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, ok := r.enrollments[id]
	if !ok {
		return nil, persistence.ErrEnrollmentNotFound
	}

	return cloneEnrollment(enrollment), nil
}

func (r *enrollmentRepo) List(
	_ context.Context,
	opts persistence.ListEnrollmentsOptions,
) (*persistence.EnrollmentPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	matching := make([]*models.Enrollment, 0)

	for _, enrollment := range r.enrollments {
		if enrollment.JourneyID != opts.JourneyID {
			continue
		}

		if opts.Status != nil && enrollment.Status != *opts.Status {
			continue
		}

		matching = append(matching, cloneEnrollment(enrollment))
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].EnteredAt.After(matching[j].EnteredAt)
	})

	total := int64(len(matching))

	if opts.Offset >= len(matching) {
		return &persistence.EnrollmentPage{Enrollments: []*models.Enrollment{}, TotalCount: total}, nil
	}

	end := min(opts.Offset+opts.Limit, len(matching))

	return &persistence.EnrollmentPage{
		Enrollments: matching[opts.Offset:end],
		TotalCount:  total,
		HasNextPage: int64(end) < total,
	}, nil
}

func (r *enrollmentRepo) ClaimDue(
	_ context.Context,
	workerID string,
	now time.Time,
	leaseDuration time.Duration,
	limit int,
) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*models.Enrollment, 0)

	for id, enrollment := range r.enrollments {
		if len(due) >= limit {
			break
		}

		ready := enrollment.Status == models.EnrollmentActive ||
			(enrollment.Status == models.EnrollmentWaiting &&
				enrollment.WakeAt != nil && !enrollment.WakeAt.After(now))
		if !ready {
			continue
		}

		if held, ok := r.leases[id]; ok && held.until.After(now) {
			continue
		}

		r.leases[id] = lease{owner: workerID, until: now.Add(leaseDuration)}
		due = append(due, cloneEnrollment(enrollment))
	}

	return due, nil
}

func (r *enrollmentRepo) EntryStatsFor(
	_ context.Context,
	journeyID, customerID string,
) (*persistence.EntryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &persistence.EntryStats{}

	for _, enrollment := range r.enrollments {
		if enrollment.JourneyID != journeyID || enrollment.CustomerID != customerID {
			continue
		}

		stats.Total++

		if enrollment.Status != models.EnrollmentExited {
			stats.NonExited++
		}

		if stats.LastEnteredAt == nil || enrollment.EnteredAt.After(*stats.LastEnteredAt) {
			entered := enrollment.EnteredAt
			stats.LastEnteredAt = &entered
		}
	}

	return stats, nil
}

func (r *enrollmentRepo) FindByMessageID(_ context.Context, messageID string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, enrollment := range r.enrollments {
		if enrollment.Metadata.PendingMessageID == messageID {
			return cloneEnrollment(enrollment), nil
		}
	}

	return nil, persistence.ErrEnrollmentNotFound
}

func (r *enrollmentRepo) WaitingForEvent(_ context.Context, eventName string, limit int) ([]*models.Enrollment, error) {
	return (*Persistence)(r).waitingBy(func(e *models.Enrollment) bool {
		return e.Metadata.WaitingEvent == eventName
	}, limit)
}

func (r *enrollmentRepo) WaitingForAttribute(_ context.Context, attributePath string, limit int) ([]*models.Enrollment, error) {
	return (*Persistence)(r).waitingBy(func(e *models.Enrollment) bool {
		return e.Metadata.WaitingAttribute == attributePath
	}, limit)
}

func (p *Persistence) waitingBy(match func(*models.Enrollment) bool, limit int) ([]*models.Enrollment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	waiting := make([]*models.Enrollment, 0)

	for _, enrollment := range p.enrollments {
		if len(waiting) >= limit {
			break
		}

		if enrollment.Status == models.EnrollmentWaiting && match(enrollment) {
			waiting = append(waiting, cloneEnrollment(enrollment))
		}
	}

	return waiting, nil
}

func (r *enrollmentRepo) RegisterEntry(_ context.Context, idempotencyKey, enrollmentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.entryKeys[idempotencyKey]; seen {
		return false, nil
	}

	r.entryKeys[idempotencyKey] = enrollmentID

	return true, nil
}

// activityRepo

type activityRepo Persistence

func (r *activityRepo) Append(_ context.Context, record *models.ActivityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	(*Persistence)(r).appendLocked(record)

	return nil
}

func (p *Persistence) appendLocked(record *models.ActivityRecord) {
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err == nil {
			record.ID = id.String()
		} else {
			record.ID = uuid.NewString()
		}
	}

	p.activity = append(p.activity, record)
}

func (r *activityRepo) ListByEnrollment(
	_ context.Context,
	enrollmentID string,
	opts persistence.ActivityListOptions,
) ([]*models.ActivityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	matching := make([]*models.ActivityRecord, 0)

	for _, record := range r.activity {
		if record.EnrollmentID != enrollmentID {
			continue
		}

		if opts.EventType != nil && record.EventType != *opts.EventType {
			continue
		}

		matching = append(matching, record)
	}

	// Newest first; appendLocked preserves insertion order.
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Timestamp.After(matching[j].Timestamp)
	})

	if opts.Offset >= len(matching) {
		return []*models.ActivityRecord{}, nil
	}

	end := min(opts.Offset+opts.Limit, len(matching))

	return matching[opts.Offset:end], nil
}

// cloneEnrollment deep-copies through JSON so callers can never mutate
// stored state without going through ApplyTransition.
func cloneEnrollment(enrollment *models.Enrollment) *models.Enrollment {
	data, err := json.Marshal(enrollment)
	if err != nil {
		copied := *enrollment

		return &copied
	}

	var copied models.Enrollment

	if err := json.Unmarshal(data, &copied); err != nil {
		fallback := *enrollment

		return &fallback
	}

	return &copied
}
