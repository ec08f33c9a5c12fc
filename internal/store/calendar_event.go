package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/famevents/internal/model"
	"github.com/dukerupert/famevents/internal/recurrence"
)

// ErrUnknownSortField is returned when a listing asks to order by a field
// that is not a sortable event column.
var ErrUnknownSortField = errors.New("unknown sort field")

// sortColumns maps the API field names accepted for ordering to columns.
// Nothing outside this map ever reaches an ORDER BY clause.
var sortColumns = map[string]string{
	"startTime": "start_time",
	"endTime":   "end_time",
	"title":     "title",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"status":    "status",
}

// Sortable reports whether events can be ordered by the named field.
func Sortable(field string) bool {
	_, ok := sortColumns[field]
	return ok
}

// ListOptions narrows and orders a family's events. StartFrom bounds the
// event start (inclusive), EndBy bounds the event end (inclusive).
type ListOptions struct {
	StartFrom *time.Time
	EndBy     *time.Time
	SortBy    string
	Desc      bool
}

type EventStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db, now: time.Now}
}

const eventCols = `id, title, description, start_time, end_time, all_day, location, status, visibility,
	recurrence_rule, user_id, created_by_id, family_id, task_id, metadata, created_at, updated_at`

func scanEvent(scanner interface{ Scan(...any) error }) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	var description, rule, taskID sql.NullString
	var allDayInt int
	var status, visibility, metadata string

	err := scanner.Scan(&e.ID, &e.Title, &description, &e.StartTime, &e.EndTime, &allDayInt, &e.Location,
		&status, &visibility, &rule, &e.UserID, &e.CreatedByID, &e.FamilyID, &taskID, &metadata,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.AllDay = allDayInt != 0
	e.Status = model.EventStatus(status)
	e.Visibility = model.EventVisibility(visibility)
	if description.Valid {
		e.Description = &description.String
	}
	if rule.Valid {
		e.RecurrenceRule = &rule.String
		if c, err := recurrence.Parse(rule.String); err == nil {
			e.Recurrence = &c
		}
	}
	if taskID.Valid {
		e.TaskID = &taskID.String
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Create inserts the event, assigning its id and timestamps, and returns
// the stored row.
func (s *EventStore) Create(ctx context.Context, e model.CalendarEvent) (*model.CalendarEvent, error) {
	var allDayInt int
	if e.AllDay {
		allDayInt = 1
	}

	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	id := uuid.NewString()
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, title, description, start_time, end_time, all_day, location, status, visibility,
			recurrence_rule, user_id, created_by_id, family_id, task_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.Title, nullString(e.Description), e.StartTime.UTC(), e.EndTime.UTC(), allDayInt, e.Location,
		string(e.Status), string(e.Visibility), nullString(e.RecurrenceRule), e.UserID, e.CreatedByID,
		e.FamilyID, nullString(e.TaskID), string(metadata), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns nil, nil when no event has the id.
func (s *EventStore) GetByID(ctx context.Context, id string) (*model.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return e, nil
}

// GetWithFamily is GetByID with the owning family attached.
func (s *EventStore) GetWithFamily(ctx context.Context, id string) (*model.CalendarEvent, error) {
	e, err := s.GetByID(ctx, id)
	if err != nil || e == nil {
		return e, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE id = ?`, e.FamilyID)
	f, err := scanFamily(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query event family: %w", err)
	}
	e.Family = f
	return e, nil
}

// Update replaces the schedule fields of an event and bumps updated_at.
func (s *EventStore) Update(ctx context.Context, id, title string, description *string, startTime, endTime time.Time) (*model.CalendarEvent, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events
		 SET title = ?, description = ?, start_time = ?, end_time = ?, updated_at = ?
		 WHERE id = ?`,
		title, nullString(description), startTime.UTC(), endTime.UTC(), s.now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *EventStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (s *EventStore) ListByFamily(ctx context.Context, familyID string, opts ListOptions) ([]model.CalendarEvent, error) {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "startTime"
	}
	column, ok := sortColumns[sortBy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSortField, sortBy)
	}
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + eventCols + ` FROM events WHERE family_id = ?`)
	args := []any{familyID}
	if opts.StartFrom != nil {
		b.WriteString(` AND start_time >= ?`)
		args = append(args, opts.StartFrom.UTC())
	}
	if opts.EndBy != nil {
		b.WriteString(` AND end_time <= ?`)
		args = append(args, opts.EndBy.UTC())
	}
	fmt.Fprintf(&b, ` ORDER BY %s %s, id ASC`, column, direction)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *EventStore) CountByFamily(ctx context.Context, familyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE family_id = ?`, familyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Stats returns the total number of events and the creation time of the
// newest one (nil when the table is empty).
func (s *EventStore) Stats(ctx context.Context) (int, *time.Time, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, nil, fmt.Errorf("count events: %w", err)
	}
	if n == 0 {
		return 0, nil, nil
	}

	var last time.Time
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM events ORDER BY created_at DESC LIMIT 1`).Scan(&last)
	if err != nil {
		return 0, nil, fmt.Errorf("last event created: %w", err)
	}
	return n, &last, nil
}
