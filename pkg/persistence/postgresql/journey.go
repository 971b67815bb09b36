package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voyagerhq/voyager/pkg/models"
	"github.com/voyagerhq/voyager/pkg/persistence"
)

// JourneyRepository handles journey definition storage.
type JourneyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJourneyRepository(db *sql.DB, logger *slog.Logger) *JourneyRepository {
	return &JourneyRepository{db: db, logger: logger}
}

// Save upserts a journey definition. Nodes and edges are stored as JSONB;
// the engine re-compiles them on load.
func (r *JourneyRepository) Save(ctx context.Context, journey *models.Journey) error {
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

	nodesJSON, err := marshalJSON(journey.Nodes)
	if err != nil {
		return err
	}

	edgesJSON, err := marshalJSON(journey.Edges)
	if err != nil {
		return err
	}

	metadataJSON, err := marshalJSON(journey.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO journeys (id, name, description, status, nodes, edges, metadata, owner, created_at, updated_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , status = EXCLUDED.status
		  , nodes = EXCLUDED.nodes
		  , edges = EXCLUDED.edges
		  , metadata = EXCLUDED.metadata
		  , updated_at = EXCLUDED.updated_at
		  , published_at = EXCLUDED.published_at
	`

	_, err = r.db.ExecContext(ctx, query,
		journey.ID, journey.Name, journey.Description, journey.Status,
		nodesJSON, edgesJSON, metadataJSON, journey.Owner,
		journey.CreatedAt, journey.UpdatedAt, journey.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save journey: %w", err)
	}

	return nil
}

// GetByID returns a compiled journey.
func (r *JourneyRepository) GetByID(ctx context.Context, id string) (*models.Journey, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , status
		  , nodes
		  , edges
		  , metadata
		  , owner
		  , created_at
		  , updated_at
		  , published_at
		FROM journeys
		WHERE id = $1
	`

	journey, err := r.scanJourney(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJourneyNotFound
		}

		return nil, fmt.Errorf("failed to scan journey: %w", err)
	}

	return journey, nil
}

// ListPublished returns all compiled published journeys.
func (r *JourneyRepository) ListPublished(ctx context.Context) ([]*models.Journey, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , status
		  , nodes
		  , edges
		  , metadata
		  , owner
		  , created_at
		  , updated_at
		  , published_at
		FROM journeys
		WHERE status = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, models.JourneyStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to query published journeys: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := r.scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}

		journeys = append(journeys, journey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journeys: %w", err)
	}

	return journeys, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JourneyRepository) scanJourney(row rowScanner) (*models.Journey, error) {
	var (
		journey      models.Journey
		nodesJSON    []byte
		edgesJSON    []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&journey.ID, &journey.Name, &journey.Description, &journey.Status,
		&nodesJSON, &edgesJSON, &metadataJSON, &journey.Owner,
		&journey.CreatedAt, &journey.UpdatedAt, &journey.PublishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &journey.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &journey.Edges); err != nil {
		return nil, fmt.Errorf("failed to decode edges: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &journey.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	if err := journey.Compile(); err != nil {
		return nil, fmt.Errorf("failed to compile journey %s: %w", journey.ID, err)
	}

	return &journey, nil
}
