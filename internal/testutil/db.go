// Package testutil holds shared test fixtures.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/db"
)

// NewTestDB creates an in-memory SQLite database for testing.
// It runs migrations and closes the database when the test ends.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.OpenInMemory()
	require.NoError(t, err, "failed to open test database")

	err = database.Migrate(context.Background())
	require.NoError(t, err, "failed to run migrations")

	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// TestDBEnv provides a database with every repository wired.
type TestDBEnv struct {
	DB               *db.DB
	KVRepo           *db.KVRepository
	EventRepo        *db.EventRepository
	CycleRunRepo     *db.CycleRunRepository
	IntelligenceRepo *db.IntelligenceRepository
}

// NewTestDBEnv creates a complete test database environment.
func NewTestDBEnv(t *testing.T) *TestDBEnv {
	t.Helper()
	database := NewTestDB(t)

	return &TestDBEnv{
		DB:               database,
		KVRepo:           db.NewKVRepository(database),
		EventRepo:        db.NewEventRepository(database),
		CycleRunRepo:     db.NewCycleRunRepository(database),
		IntelligenceRepo: db.NewIntelligenceRepository(database),
	}
}
