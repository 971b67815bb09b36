package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

// EnrollmentRepository stores per-customer journey progress.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
	id
  , journey_id
  , customer_id
  , status
  , current_node_id
  , entered_at
  , last_activity_at
  , node_entered_at
  , wake_at
  , metadata
  , version
`

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	metadataJSON, err := marshalJSON(enrollment.Metadata)
	if err != nil {
		return err
	}

	if enrollment.Version == 0 {
		enrollment.Version = 1
	}

	query := `
		INSERT INTO enrollments (
			id, journey_id, customer_id, status, current_node_id,
			entered_at, last_activity_at, node_entered_at, wake_at, metadata, version,
			pending_message_id, waiting_event, waiting_attribute
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID, enrollment.JourneyID, enrollment.CustomerID,
		enrollment.Status, enrollment.CurrentNodeID,
		enrollment.EnteredAt, enrollment.LastActivityAt, enrollment.NodeEnteredAt,
		enrollment.WakeAt, metadataJSON, enrollment.Version,
		nullable(enrollment.Metadata.PendingMessageID),
		nullable(enrollment.Metadata.WaitingEvent),
		nullable(enrollment.Metadata.WaitingAttribute),
	)
	if err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}

	return nil
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) List(
	ctx context.Context,
	opts persistence.ListEnrollmentsOptions,
) (*persistence.EnrollmentPage, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	where := "WHERE journey_id = $1"
	args := []any{opts.JourneyID}

	if opts.Status != nil {
		where += " AND status = $2"
		args = append(args, *opts.Status)
	}

	var totalCount int64

	countQuery := "SELECT COUNT(*) FROM enrollments " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count enrollments: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM enrollments %s ORDER BY entered_at DESC LIMIT $%d OFFSET $%d",
		enrollmentColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, opts.Limit, opts.Offset)

	enrollments, err := r.queryEnrollments(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.EnrollmentPage{
		Enrollments: enrollments,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(enrollments)) < totalCount,
	}, nil
}

// ClaimDue leases due enrollments with SKIP LOCKED so concurrent workers
// never claim the same row. A stale lease (crashed worker) is reclaimable
// once lease_until passes.
func (r *EnrollmentRepository) ClaimDue(
	ctx context.Context,
	workerID string,
	now time.Time,
	lease time.Duration,
	limit int,
) ([]*models.Enrollment, error) {
	query := `
		UPDATE enrollments
		SET lease_owner = $1, lease_until = $2
		WHERE id IN (
			SELECT id FROM enrollments
			WHERE (status = 'active' OR (status = 'waiting' AND wake_at <= $3))
			  AND (lease_until IS NULL OR lease_until < $3)
			ORDER BY wake_at ASC NULLS FIRST
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + enrollmentColumns

	rows, err := r.db.QueryContext(ctx, query, workerID, now.Add(lease), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectEnrollments(rows)
}

func (r *EnrollmentRepository) EntryStatsFor(
	ctx context.Context,
	journeyID, customerID string,
) (*persistence.EntryStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status != 'exited')
		  , COUNT(*)
		  , MAX(entered_at)
		FROM enrollments
		WHERE journey_id = $1 AND customer_id = $2
	`

	var (
		stats         persistence.EntryStats
		lastEnteredAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, journeyID, customerID).
		Scan(&stats.NonExited, &stats.Total, &lastEnteredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry stats: %w", err)
	}

	if lastEnteredAt.Valid {
		stats.LastEnteredAt = &lastEnteredAt.Time
	}

	return &stats, nil
}

func (r *EnrollmentRepository) FindByMessageID(ctx context.Context, messageID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE pending_message_id = $1`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to scan enrollment by message id: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) WaitingForEvent(
	ctx context.Context,
	eventName string,
	limit int,
) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status = 'waiting' AND waiting_event = $1
		LIMIT $2
	`

	return r.queryEnrollments(ctx, query, eventName, limit)
}

func (r *EnrollmentRepository) WaitingForAttribute(
	ctx context.Context,
	attributePath string,
	limit int,
) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status = 'waiting' AND waiting_attribute = $1
		LIMIT $2
	`

	return r.queryEnrollments(ctx, query, attributePath, limit)
}

// RegisterEntry inserts the idempotency key; a conflict means the event
// was already handled and no new enrollment may be created.
func (r *EnrollmentRepository) RegisterEntry(ctx context.Context, idempotencyKey, enrollmentID string) (bool, error) {
	query := `
		INSERT INTO entry_keys (idempotency_key, enrollment_id)
		VALUES ($1, $2)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, idempotencyKey, enrollmentID)
	if err != nil {
		return false, fmt.Errorf("failed to register entry key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

// updateTx applies an optimistic-versioned enrollment write inside an
// open transaction. The lease is released as part of the write.
func (r *EnrollmentRepository) updateTx(
	ctx context.Context,
	tx *sql.Tx,
	enrollment *models.Enrollment,
	expectedVersion int64,
) error {
	metadataJSON, err := marshalJSON(enrollment.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE enrollments
		SET status = $1
		  , current_node_id = $2
		  , last_activity_at = $3
		  , node_entered_at = $4
		  , wake_at = $5
		  , metadata = $6
		  , version = version + 1
		  , lease_owner = NULL
		  , lease_until = NULL
		  , pending_message_id = $7
		  , waiting_event = $8
		  , waiting_attribute = $9
		WHERE id = $10 AND version = $11
	`

	result, err := tx.ExecContext(ctx, query,
		enrollment.Status, enrollment.CurrentNodeID,
		enrollment.LastActivityAt, enrollment.NodeEnteredAt, enrollment.WakeAt,
		metadataJSON,
		nullable(enrollment.Metadata.PendingMessageID),
		nullable(enrollment.Metadata.WaitingEvent),
		nullable(enrollment.Metadata.WaitingAttribute),
		enrollment.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrVersionConflict
	}

	enrollment.Version = expectedVersion + 1

	return nil
}

func (r *EnrollmentRepository) queryEnrollments(
	ctx context.Context,
	query string,
	args ...any,
) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectEnrollments(rows)
}

func collectEnrollments(rows *sql.Rows) ([]*models.Enrollment, error) {
	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment   models.Enrollment
		wakeAt       sql.NullTime
		metadataJSON []byte
	)

	err := row.Scan(
		&enrollment.ID, &enrollment.JourneyID, &enrollment.CustomerID,
		&enrollment.Status, &enrollment.CurrentNodeID,
		&enrollment.EnteredAt, &enrollment.LastActivityAt, &enrollment.NodeEnteredAt,
		&wakeAt, &metadataJSON, &enrollment.Version,
	)
	if err != nil {
		return nil, err
	}

	if wakeAt.Valid {
		enrollment.WakeAt = &wakeAt.Time
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &enrollment.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment metadata: %w", err)
		}
	}

	return &enrollment, nil
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
