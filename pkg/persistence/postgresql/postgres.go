// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
	"github.com/voyagerhq/voyager/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db          *sql.DB
	logger      *slog.Logger
	journeys    *JourneyRepository
	enrollments *EnrollmentRepository
	activity    *ActivityRepository
}

// NewPersistence connects, migrates and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		journeys:    NewJourneyRepository(database, logger),
		enrollments: NewEnrollmentRepository(database, logger),
		activity:    NewActivityRepository(database, logger),
	}, nil
}

func (p *Persistence) Journeys() persistence.JourneyRepository {
	return p.journeys
}

func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return p.enrollments
}

func (p *Persistence) Activity() persistence.ActivityRepository {
	return p.activity
}

// ApplyTransition writes the enrollment mutation and its activity records
// in one transaction, guarded by the optimistic version counter.
func (p *Persistence) ApplyTransition(
	ctx context.Context,
	enrollment *models.Enrollment,
	expectedVersion int64,
	records []*models.ActivityRecord,
) error {
	transaction, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transition transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = transaction.Rollback()
		}
	}()

	err = p.enrollments.updateTx(ctx, transaction, enrollment, expectedVersion)
	if err != nil {
		return err
	}

	for _, record := range records {
		err = p.activity.appendTx(ctx, transaction, record)
		if err != nil {
			return err
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func marshalJSON(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}

	return data, nil
}
