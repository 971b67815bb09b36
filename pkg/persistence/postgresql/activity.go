package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

// ActivityRepository is the append-only transition log. There is no
// update or delete path on purpose.
type ActivityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewActivityRepository(db *sql.DB, logger *slog.Logger) *ActivityRepository {
	return &ActivityRepository{db: db, logger: logger}
}

func (r *ActivityRepository) Append(ctx context.Context, record *models.ActivityRecord) error {
	return r.append(ctx, r.db, record)
}

func (r *ActivityRepository) appendTx(ctx context.Context, tx *sql.Tx, record *models.ActivityRecord) error {
	return r.append(ctx, tx, record)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *ActivityRepository) append(ctx context.Context, db execer, record *models.ActivityRecord) error {
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate activity record ID: %w", err)
		}

		record.ID = id.String()
	}

	dataJSON, err := marshalJSON(record.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO activity_log (id, enrollment_id, journey_id, node_id, event_type, timestamp, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = db.ExecContext(ctx, query,
		record.ID, record.EnrollmentID, record.JourneyID,
		nullable(record.NodeID), record.EventType, record.Timestamp, dataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity record: %w", err)
	}

	return nil
}

// ListByEnrollment returns an enrollment's records newest first.
func (r *ActivityRepository) ListByEnrollment(
	ctx context.Context,
	enrollmentID string,
	opts persistence.ActivityListOptions,
) ([]*models.ActivityRecord, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	where := "WHERE enrollment_id = $1"
	args := []any{enrollmentID}

	if opts.EventType != nil {
		where += " AND event_type = $2"
		args = append(args, *opts.EventType)
	}

	query := fmt.Sprintf(`
		SELECT id, enrollment_id, journey_id, node_id, event_type, timestamp, data
		FROM activity_log
		%s
		ORDER BY timestamp DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.ActivityRecord, 0)

	for rows.Next() {
		var (
			record   models.ActivityRecord
			nodeID   sql.NullString
			dataJSON []byte
		)

		err := rows.Scan(
			&record.ID, &record.EnrollmentID, &record.JourneyID,
			&nodeID, &record.EventType, &record.Timestamp, &dataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}

		record.NodeID = nodeID.String

		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &record.Data); err != nil {
				return nil, fmt.Errorf("failed to decode activity data: %w", err)
			}
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity records: %w", err)
	}

	return records, nil
}
