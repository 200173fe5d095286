package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/omega/internal/models"
)

// Intelligence repository errors.
var (
	ErrIntelligenceNotFound = errors.New("intelligence not found")
)

// IntelligenceRepository persists intelligence records.
type IntelligenceRepository struct {
	db *DB
}

// NewIntelligenceRepository creates a new IntelligenceRepository.
func NewIntelligenceRepository(db *DB) *IntelligenceRepository {
	return &IntelligenceRepository{db: db}
}

// Create inserts a new intelligence.
func (r *IntelligenceRepository) Create(ctx context.Context, intel *models.Intelligence) error {
	if err := intel.Validate(); err != nil {
		return err
	}
	if intel.ID == "" {
		intel.ID = uuid.New().String()
	}
	if intel.ArchitectureID == "" {
		intel.ArchitectureID = uuid.New().String()
	}
	if intel.CreatedAt.IsZero() {
		intel.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO intelligences (id, architecture_id, name, description, fitness, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		intel.ID,
		intel.ArchitectureID,
		intel.Name,
		nullableString(intel.Description),
		intel.Fitness,
		intel.Generation,
		formatTime(intel.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert intelligence: %w", err)
	}
	return nil
}

// Get retrieves an intelligence by ID.
func (r *IntelligenceRepository) Get(ctx context.Context, id string) (*models.Intelligence, error) {
	var (
		intel       models.Intelligence
		description sql.NullString
		createdAt   string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, architecture_id, name, description, fitness, generation, created_at
		FROM intelligences WHERE id = ?
	`, id).Scan(&intel.ID, &intel.ArchitectureID, &intel.Name, &description, &intel.Fitness, &intel.Generation, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntelligenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intelligence: %w", err)
	}
	intel.Description = description.String
	intel.CreatedAt = parseTime(createdAt)
	return &intel, nil
}

// Count returns how many intelligences exist.
func (r *IntelligenceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM intelligences").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count intelligences: %w", err)
	}
	return count, nil
}
