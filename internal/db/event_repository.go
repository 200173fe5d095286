package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/omega/internal/models"
)

// EventQuery filters event listings.
type EventQuery struct {
	Types    []models.EventType
	EntityID string
	Since    *time.Time
	Limit    int
}

// EventRepository persists published events.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create appends an event, assigning an id and timestamp when missing.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var payload *string
	if len(event.Payload) > 0 {
		value := string(event.Payload)
		payload = &value
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, type, entity_type, entity_id, payload_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		string(event.Type),
		string(event.EntityType),
		nullableString(event.EntityID),
		payload,
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// List returns events oldest first.
func (r *EventRepository) List(ctx context.Context, q EventQuery) ([]*models.Event, error) {
	var (
		where []string
		args  []any
	)
	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(placeholders, ",")+")")
	}
	if q.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, q.EntityID)
	}
	if q.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*q.Since))
	}

	query := "SELECT id, type, entity_type, entity_id, payload_json, timestamp FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		var (
			event      models.Event
			eventType  string
			entityType string
			entityID   sql.NullString
			payload    sql.NullString
			timestamp  string
		)
		if err := rows.Scan(&event.ID, &eventType, &entityType, &entityID, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = models.EventType(eventType)
		event.EntityType = models.EntityType(entityType)
		event.EntityID = entityID.String
		if payload.Valid && payload.String != "" {
			event.Payload = []byte(payload.String)
		}
		event.Timestamp = parseTime(timestamp)
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// OldestTimestamp returns the timestamp of the oldest stored event.
func (r *EventRepository) OldestTimestamp(ctx context.Context) (*time.Time, error) {
	var value sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT MIN(timestamp) FROM events").Scan(&value); err != nil {
		return nil, fmt.Errorf("failed to query oldest event: %w", err)
	}
	if !value.Valid {
		return nil, nil
	}
	t := parseTime(value.String)
	return &t, nil
}

// DeleteOlderThan removes up to limit events older than cutoff.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE timestamp < ? ORDER BY timestamp ASC LIMIT ?
		)
	`, formatTime(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExcess removes up to limit of the oldest events beyond keep.
func (r *EventRepository) DeleteExcess(ctx context.Context, keep, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events ORDER BY timestamp DESC LIMIT -1 OFFSET ?
		) AND id IN (
			SELECT id FROM events ORDER BY timestamp ASC LIMIT ?
		)
	`, keep, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete excess events: %w", err)
	}
	return result.RowsAffected()
}
