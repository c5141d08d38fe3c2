package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/coursegate/pkg/observability"
)

// DBLogger writes and searches auth logs in PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based auth logger. The auth_logs table
// is created by storage/postgres.EnsureSchema.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log validates and inserts an entry, filling ID, UserID and CreatedAt
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	if !entry.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, entry.EventType)
	}

	userID, err := l.resolveUserID(ctx, entry.UserRef)
	if err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("event_type", string(entry.EventType)).
			Warn("storing auth log without user id")
		userID = nil
	}
	entry.UserID = userID

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO auth_logs (event_type, message, identifier, user_id, path, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	var nullableUserID interface{}
	if userID != nil {
		nullableUserID = *userID
	}

	err = l.db.QueryRowContext(ctx, query,
		string(entry.EventType), entry.Message, entry.Identifier,
		nullableUserID, entry.Path, metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert auth log: %w", err)
	}

	return nil
}

// resolveUserID maps a caller-supplied user reference to a users.id. A UUID
// is taken as is; anything else is matched against the provider subject id
// or the email of a live user. No match stores NULL, and so does a failed
// lookup.
func (l *DBLogger) resolveUserID(ctx context.Context, ref string) (*uuid.UUID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	if id, err := uuid.Parse(ref); err == nil {
		return &id, nil
	}

	var id uuid.UUID
	err := l.db.QueryRowContext(ctx, `
		SELECT id FROM users
		WHERE deleted_at IS NULL AND (provider_subject_id = $1 OR email = LOWER($1))
		ORDER BY (provider_subject_id = $1) DESC
		LIMIT 1
	`, ref).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user id: %w", err)
	}
	return &id, nil
}

// Search searches auth logs, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	where, args := filter.whereClause()
	query := `
		SELECT id, event_type, message, identifier, user_id, path, metadata, created_at
		FROM auth_logs
	` + where + " ORDER BY created_at DESC, id DESC"

	argCount := len(args) + 1
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search auth logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{Metadata: make(map[string]interface{})}
		var (
			eventType    string
			userID       uuid.NullUUID
			metadataJSON []byte
		)

		if err := rows.Scan(
			&entry.ID, &eventType, &entry.Message, &entry.Identifier,
			&userID, &entry.Path, &metadataJSON, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth log: %w", err)
		}

		entry.EventType = EventType(eventType)
		if userID.Valid {
			id := userID.UUID
			entry.UserID = &id
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auth logs: %w", err)
	}

	return entries, nil
}

func (f SearchFilter) whereClause() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, et := range f.EventTypes {
			types[i] = string(et)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if f.Identifier != "" {
		add("identifier = $%d", f.Identifier)
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.StartTime != nil {
		add("created_at >= $%d", *f.StartTime)
	}
	if f.EndTime != nil {
		add("created_at <= $%d", *f.EndTime)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// GetStats counts events by type within an optional time range
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EventsByType: make(map[EventType]int64),
		StartTime:    startTime,
		EndTime:      endTime,
	}

	where, args := SearchFilter{StartTime: startTime, EndTime: endTime}.whereClause()

	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT identifier) FROM auth_logs "+where, args...,
	).Scan(&stats.TotalEvents, &stats.UniqueIdentifiers)
	if err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT event_type, COUNT(*) FROM auth_logs "+where+" GROUP BY event_type", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventType string
			count     int64
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		stats.EventsByType[EventType(eventType)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}

	return stats, nil
}
