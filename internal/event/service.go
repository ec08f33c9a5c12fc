// Package event holds the calendar event lifecycle: every authorization
// decision and business rule for creating, reading, updating, listing and
// deleting a family's events.
package event

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/famevents/internal/model"
	"github.com/dukerupert/famevents/internal/notify"
	"github.com/dukerupert/famevents/internal/recurrence"
	"github.com/dukerupert/famevents/internal/store"
)

// Store persists events. Lookups return nil, nil for a missing id.
type Store interface {
	Create(ctx context.Context, e model.CalendarEvent) (*model.CalendarEvent, error)
	GetByID(ctx context.Context, id string) (*model.CalendarEvent, error)
	GetWithFamily(ctx context.Context, id string) (*model.CalendarEvent, error)
	Update(ctx context.Context, id, title string, description *string, startTime, endTime time.Time) (*model.CalendarEvent, error)
	Delete(ctx context.Context, id string) error
	ListByFamily(ctx context.Context, familyID string, opts store.ListOptions) ([]model.CalendarEvent, error)
	CountByFamily(ctx context.Context, familyID string) (int, error)
}

// Membership answers whether a user actively belongs to a family. It
// returns nil, nil when there is no active membership.
type Membership interface {
	ActiveMember(ctx context.Context, familyID, userID string) (*model.FamilyMember, error)
}

// Recorder receives operation outcomes. outcome is "ok" or an error code.
type Recorder interface {
	RecordOperation(op, outcome string)
	RecordNotification(typ string, err error)
}

// Policy holds the tunable creation rules.
type Policy struct {
	// MaxEventsPerFamily caps how many events a family may hold. Zero
	// means no cap.
	MaxEventsPerFamily   int
	EnableRecurrence     bool
	AllowCrossUserEvents bool
}

type CreateInput struct {
	Title          string
	Description    *string
	StartTime      time.Time
	EndTime        time.Time
	FamilyID       string
	AllDay         bool
	Location       string
	Status         model.EventStatus
	Visibility     model.EventVisibility
	RecurrenceRule *string
	// UserID is the event owner. Empty means the actor.
	UserID   string
	TaskID   *string
	Metadata map[string]any
}

type UpdateInput struct {
	Title       string
	Description *string
	StartTime   time.Time
	EndTime     time.Time
}

type ListFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	SortBy    string
	SortOrder string
}

type Service struct {
	events   Store
	members  Membership
	pub      notify.Publisher
	policy   Policy
	recorder Recorder
	logger   *slog.Logger
}

type Option func(*Service)

// WithRecorder attaches an outcome recorder such as the Prometheus one.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(events Store, members Membership, pub notify.Publisher, policy Policy, logger *slog.Logger, opts ...Option) *Service {
	if pub == nil {
		pub = notify.Nop{}
	}
	s := &Service{
		events:   events,
		members:  members,
		pub:      pub,
		policy:   policy,
		recorder: nopRecorder{},
		logger:   logger.With("component", "event"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the rules the service enforces.
func (s *Service) Policy() Policy { return s.policy }

// Create persists a new event in in.FamilyID on behalf of actor.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (_ *model.CalendarEvent, err error) {
	defer s.observe("create", &err)

	if verr := validateSchedule(in.Title, in.StartTime, in.EndTime); verr != nil {
		return nil, verr
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, Validation("unknown status " + string(in.Status))
	}
	if in.Visibility != "" && !in.Visibility.Valid() {
		return nil, Validation("unknown visibility " + string(in.Visibility))
	}

	if err := s.requireMember(ctx, in.FamilyID, actor); err != nil {
		return nil, err
	}

	if limit := s.policy.MaxEventsPerFamily; limit > 0 {
		n, err := s.events.CountByFamily(ctx, in.FamilyID)
		if err != nil {
			return nil, s.internal("count family events", err)
		}
		if n >= limit {
			return nil, limitExceeded(limit)
		}
	}

	var rule *string
	if in.RecurrenceRule != nil && strings.TrimSpace(*in.RecurrenceRule) != "" {
		if !s.policy.EnableRecurrence {
			return nil, recurrenceDisabled()
		}
		raw := strings.TrimSpace(*in.RecurrenceRule)
		if _, err := recurrence.Parse(raw); err != nil {
			return nil, InvalidRecurrence(raw, err)
		}
		rule = &raw
	}

	owner := actor
	if in.UserID != "" && in.UserID != actor {
		if !s.policy.AllowCrossUserEvents {
			return nil, crossUserNotAllowed()
		}
		if err := s.requireMember(ctx, in.FamilyID, in.UserID); err != nil {
			return nil, err
		}
		owner = in.UserID
	}

	status := in.Status
	if status == "" {
		status = model.StatusScheduled
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = model.VisibilityFamily
	}

	created, err := s.events.Create(ctx, model.CalendarEvent{
		Title:          in.Title,
		Description:    in.Description,
		StartTime:      in.StartTime.UTC(),
		EndTime:        in.EndTime.UTC(),
		AllDay:         in.AllDay,
		Location:       in.Location,
		Status:         status,
		Visibility:     visibility,
		RecurrenceRule: rule,
		UserID:         owner,
		CreatedByID:    actor,
		FamilyID:       in.FamilyID,
		TaskID:         in.TaskID,
		Metadata:       in.Metadata,
	})
	if err != nil {
		return nil, s.internal("create event", err)
	}

	s.logger.Info("event created", "event_id", created.ID, "family_id", created.FamilyID, "actor", actor)
	s.publish(ctx, notify.New(notify.EventCreated, created.FamilyID, created.ID, actor, created))
	return created, nil
}

// Get returns the event with its family attached. A missing event is
// reported before membership is checked.
func (s *Service) Get(ctx context.Context, actor, id string) (_ *model.CalendarEvent, err error) {
	defer s.observe("get", &err)

	e, err := s.events.GetWithFamily(ctx, id)
	if err != nil {
		return nil, s.internal("get event", err)
	}
	if e == nil {
		return nil, notFound(id)
	}
	if err := s.requireMember(ctx, e.FamilyID, actor); err != nil {
		return nil, err
	}
	return e, nil
}

// Update replaces the schedule fields of an event. Only the creator may
// update, and family membership is not consulted.
func (s *Service) Update(ctx context.Context, actor, id string, in UpdateInput) (_ *model.CalendarEvent, err error) {
	defer s.observe("update", &err)

	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, s.internal("get event", err)
	}
	if e == nil {
		return nil, notFound(id)
	}
	if e.CreatedByID != actor {
		return nil, notEventCreator()
	}
	if verr := validateSchedule(in.Title, in.StartTime, in.EndTime); verr != nil {
		return nil, verr
	}

	updated, err := s.events.Update(ctx, id, in.Title, in.Description, in.StartTime.UTC(), in.EndTime.UTC())
	if err != nil {
		return nil, s.internal("update event", err)
	}
	if updated == nil {
		// Deleted between the read and the write.
		return nil, notFound(id)
	}

	s.logger.Info("event updated", "event_id", id, "actor", actor)
	s.publish(ctx, notify.New(notify.EventUpdated, updated.FamilyID, updated.ID, actor, updated))
	return updated, nil
}

// Delete permanently removes an event. The actor must be an active member
// of the event's family and either its creator or a parent.
func (s *Service) Delete(ctx context.Context, actor, id string) (err error) {
	defer s.observe("delete", &err)

	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		return s.internal("get event", err)
	}
	if e == nil {
		return notFound(id)
	}

	m, err := s.members.ActiveMember(ctx, e.FamilyID, actor)
	if err != nil {
		return s.internal("check membership", err)
	}
	if m == nil {
		return notFamilyMember()
	}
	if e.CreatedByID != actor && m.Role != model.RoleParent {
		return notAuthorized()
	}

	if err := s.events.Delete(ctx, id); err != nil {
		return s.internal("delete event", err)
	}

	s.logger.Info("event deleted", "event_id", id, "family_id", e.FamilyID, "actor", actor)
	s.publish(ctx, notify.New(notify.EventDeleted, e.FamilyID, id, actor, nil))
	return nil
}

// ListByFamily returns a family's events. StartDate bounds event starts
// and EndDate bounds event ends, both inclusive.
func (s *Service) ListByFamily(ctx context.Context, actor, familyID string, f ListFilter) (_ []model.CalendarEvent, err error) {
	defer s.observe("list", &err)

	if err := s.requireMember(ctx, familyID, actor); err != nil {
		return nil, err
	}

	opts, verr := f.options()
	if verr != nil {
		return nil, verr
	}

	events, err := s.events.ListByFamily(ctx, familyID, opts)
	if err != nil {
		return nil, s.internal("list events", err)
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}
	return events, nil
}

// SyncExternalCalendars announces a calendar sync to subscribers. Fetching
// external calendars is left to whoever listens.
func (s *Service) SyncExternalCalendars(ctx context.Context) (err error) {
	defer s.observe("sync", &err)

	s.logger.Info("external calendar sync requested")
	s.publish(ctx, notify.New(notify.CalendarSync, "", "", "", map[string]any{
		"requestedAt": time.Now().UTC(),
	}))
	return nil
}

// HandleUserCreated announces that a user joined a family so listeners can
// seed that user's calendar.
func (s *Service) HandleUserCreated(ctx context.Context, userID, familyID string) (err error) {
	defer s.observe("user_created", &err)

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(familyID) == "" {
		return Validation("userId and familyId are required")
	}
	s.publish(ctx, notify.New(notify.UserEventsCreated, familyID, "", userID, map[string]any{
		"userId":   userID,
		"familyId": familyID,
	}))
	return nil
}

// HandleFamilyUpdated announces a change to a family's name or membership.
// payload is passed through to subscribers untouched.
func (s *Service) HandleFamilyUpdated(ctx context.Context, familyID string, payload any) (err error) {
	defer s.observe("family_updated", &err)

	if strings.TrimSpace(familyID) == "" {
		return Validation("familyId is required")
	}
	s.publish(ctx, notify.New(notify.FamilyEventsUpdated, familyID, "", "", payload))
	return nil
}

func (f ListFilter) options() (store.ListOptions, *Error) {
	opts := store.ListOptions{StartFrom: f.StartDate, EndBy: f.EndDate, SortBy: f.SortBy}
	if opts.SortBy == "" {
		opts.SortBy = "startTime"
	}
	if !store.Sortable(opts.SortBy) {
		return opts, invalidSort(opts.SortBy)
	}
	switch strings.ToLower(f.SortOrder) {
	case "", "asc":
	case "desc":
		opts.Desc = true
	default:
		return opts, invalidSortOrder(f.SortOrder)
	}
	return opts, nil
}

func validateSchedule(title string, start, end time.Time) *Error {
	if strings.TrimSpace(title) == "" {
		return Validation("title is required")
	}
	if start.IsZero() || end.IsZero() {
		return Validation("startTime and endTime are required")
	}
	if start.After(end) {
		return Validation("startTime must not be after endTime")
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, familyID, userID string) error {
	m, err := s.members.ActiveMember(ctx, familyID, userID)
	if err != nil {
		return s.internal("check membership", err)
	}
	if m == nil {
		return notFamilyMember()
	}
	return nil
}

func (s *Service) internal(action string, err error) *Error {
	s.logger.Error(action, "error", err)
	return internal(err)
}

func (s *Service) publish(ctx context.Context, n notify.Notification) {
	err := s.pub.Publish(context.WithoutCancel(ctx), n)
	if err != nil {
		s.logger.Warn("publish notification", "type", n.Type, "event_id", n.EventID, "error", err)
	}
	s.recorder.RecordNotification(n.Type, err)
}

func (s *Service) observe(op string, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = CodeInternal
		var e *Error
		if errors.As(*errp, &e) {
			outcome = e.Code
		}
	}
	s.recorder.RecordOperation(op, outcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string)  {}
func (nopRecorder) RecordNotification(string, error) {}
