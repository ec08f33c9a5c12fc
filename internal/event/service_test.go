package event

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/famevents/internal/database"
	"github.com/dukerupert/famevents/internal/model"
	"github.com/dukerupert/famevents/internal/notify"
	"github.com/dukerupert/famevents/internal/recurrence"
	"github.com/dukerupert/famevents/internal/store"
)

type capturePublisher struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, n notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return p.err
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, n := range p.sent {
		out = append(out, n.Type)
	}
	return out
}

type captureRecorder struct {
	ops []string
}

func (r *captureRecorder) RecordOperation(op, outcome string) { r.ops = append(r.ops, op+":"+outcome) }
func (r *captureRecorder) RecordNotification(string, error)    {}

type fixture struct {
	svc      *Service
	events   *store.EventStore
	families *store.FamilyStore
	pub      *capturePublisher
	family   *model.Family
	other    *model.Family
}

// newFixture builds a family with alice (parent), bob and carol (children),
// plus a second family whose only member is dave.
func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	fs := store.NewFamilyStore(db)
	fam, err := fs.Create(ctx, "Smith")
	require.NoError(t, err)
	other, err := fs.Create(ctx, "Jones")
	require.NoError(t, err)

	for _, m := range []struct {
		family, user string
		role         model.Role
	}{
		{fam.ID, "alice", model.RoleParent},
		{fam.ID, "bob", model.RoleChild},
		{fam.ID, "carol", model.RoleChild},
		{other.ID, "dave", model.RoleParent},
	} {
		_, err := fs.AddMember(ctx, m.family, m.user, m.role)
		require.NoError(t, err)
	}

	es := store.NewEventStore(db)
	pub := &capturePublisher{}
	return &fixture{
		svc:      NewService(es, fs, pub, policy, slog.Default()),
		events:   es,
		families: fs,
		pub:      pub,
		family:   fam,
		other:    other,
	}
}

func defaultPolicy() Policy {
	return Policy{EnableRecurrence: true}
}

func ptr[T any](v T) *T { return &v }

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) create(t *testing.T, actor, title, start, end string) *model.CalendarEvent {
	t.Helper()
	e, err := f.svc.Create(context.Background(), actor, CreateInput{
		Title:     title,
		StartTime: at(start),
		EndTime:   at(end),
		FamilyID:  f.family.ID,
	})
	require.NoError(t, err)
	return e
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "expected *event.Error, got %v", err)
	assert.Equal(t, code, e.Code)
}

func TestCreateRoundTrip(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	in := CreateInput{
		Title:       "Dentist",
		Description: ptr("Bring insurance card"),
		StartTime:   at("2024-03-01T09:00:00Z"),
		EndTime:     at("2024-03-01T10:00:00Z"),
		FamilyID:    f.family.ID,
		Location:    "Main St",
		Visibility:  model.VisibilityPrivate,
		Metadata:    map[string]any{"color": "red"},
	}
	created, err := f.svc.Create(ctx, "bob", in)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "bob", created.CreatedByID)
	assert.Equal(t, "bob", created.UserID)
	assert.Equal(t, model.StatusScheduled, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := f.svc.Get(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Title, got.Title)
	assert.Equal(t, *in.Description, *got.Description)
	assert.True(t, in.StartTime.Equal(got.StartTime))
	assert.True(t, in.EndTime.Equal(got.EndTime))
	assert.Equal(t, in.Location, got.Location)
	assert.Equal(t, in.Visibility, got.Visibility)
	assert.Equal(t, "red", got.Metadata["color"])
	assert.Equal(t, f.family.ID, got.FamilyID)
	require.NotNil(t, got.Family)
	assert.Equal(t, "Smith", got.Family.Name)

	assert.Equal(t, []string{notify.EventCreated}, f.pub.types())
}

func TestCreateRequiresMembership(t *testing.T) {
	f := newFixture(t, defaultPolicy())

	_, err := f.svc.Create(context.Background(), "dave", CreateInput{
		Title:     "Sneaky",
		StartTime: at("2024-03-01T09:00:00Z"),
		EndTime:   at("2024-03-01T10:00:00Z"),
		FamilyID:  f.family.ID,
	})
	assertCode(t, err, CodeNotFamilyMember)
	assert.ErrorIs(t, err, ErrNotFamilyMember)
	assert.Empty(t, f.pub.types())
}

func TestCreateRemovedMember(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	require.NoError(t, f.families.RemoveMember(context.Background(), f.family.ID, "carol"))

	_, err := f.svc.Create(context.Background(), "carol", CreateInput{
		Title:     "Late",
		StartTime: at("2024-03-01T09:00:00Z"),
		EndTime:   at("2024-03-01T10:00:00Z"),
		FamilyID:  f.family.ID,
	})
	assertCode(t, err, CodeNotFamilyMember)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, defaultPolicy())

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty title", CreateInput{Title: " ", StartTime: at("2024-03-01T09:00:00Z"), EndTime: at("2024-03-01T10:00:00Z")}},
		{"start after end", CreateInput{Title: "x", StartTime: at("2024-03-01T11:00:00Z"), EndTime: at("2024-03-01T10:00:00Z")}},
		{"missing times", CreateInput{Title: "x"}},
		{"bad status", CreateInput{Title: "x", StartTime: at("2024-03-01T09:00:00Z"), EndTime: at("2024-03-01T10:00:00Z"), Status: "LATER"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.FamilyID = f.family.ID
			_, err := f.svc.Create(context.Background(), "alice", tt.in)
			assertCode(t, err, CodeValidation)
		})
	}

	// Zero-length events are fine.
	f.create(t, "alice", "Instant", "2024-03-01T09:00:00Z", "2024-03-01T09:00:00Z")
}

func TestCreateEventLimit(t *testing.T) {
	f := newFixture(t, Policy{MaxEventsPerFamily: 2, EnableRecurrence: true})

	f.create(t, "alice", "One", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")
	f.create(t, "bob", "Two", "2024-03-02T09:00:00Z", "2024-03-02T10:00:00Z")

	_, err := f.svc.Create(context.Background(), "carol", CreateInput{
		Title:     "Three",
		StartTime: at("2024-03-03T09:00:00Z"),
		EndTime:   at("2024-03-03T10:00:00Z"),
		FamilyID:  f.family.ID,
	})
	assertCode(t, err, CodeEventLimitExceeded)
}

func TestCreateRecurrence(t *testing.T) {
	base := CreateInput{
		Title:     "Piano",
		StartTime: at("2024-03-04T16:00:00Z"),
		EndTime:   at("2024-03-04T17:00:00Z"),
	}

	t.Run("parsed", func(t *testing.T) {
		f := newFixture(t, defaultPolicy())
		in := base
		in.FamilyID = f.family.ID
		in.RecurrenceRule = ptr("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE")

		e, err := f.svc.Create(context.Background(), "alice", in)
		require.NoError(t, err)
		require.NotNil(t, e.Recurrence)
		assert.Equal(t, recurrence.Weekly, e.Recurrence.Frequency)
		assert.Equal(t, 2, e.Recurrence.Interval)
		assert.Equal(t, []string{"MO", "WE"}, e.Recurrence.ByDay)
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t, defaultPolicy())
		in := base
		in.FamilyID = f.family.ID
		in.RecurrenceRule = ptr("FREQ=SOMETIMES")

		_, err := f.svc.Create(context.Background(), "alice", in)
		assertCode(t, err, CodeInvalidRecurrence)
		assert.ErrorIs(t, err, recurrence.ErrInvalidRule)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, Policy{EnableRecurrence: false})
		in := base
		in.FamilyID = f.family.ID
		in.RecurrenceRule = ptr("FREQ=DAILY")

		_, err := f.svc.Create(context.Background(), "alice", in)
		assertCode(t, err, CodeRecurrenceDisabled)

		in.RecurrenceRule = ptr("")
		_, err = f.svc.Create(context.Background(), "alice", in)
		assert.NoError(t, err, "blank rule means no recurrence")
	})
}

func TestCreateCrossUser(t *testing.T) {
	in := func(f *fixture, owner string) CreateInput {
		return CreateInput{
			Title:     "Soccer",
			StartTime: at("2024-03-01T09:00:00Z"),
			EndTime:   at("2024-03-01T10:00:00Z"),
			FamilyID:  f.family.ID,
			UserID:    owner,
		}
	}

	t.Run("disallowed", func(t *testing.T) {
		f := newFixture(t, defaultPolicy())
		_, err := f.svc.Create(context.Background(), "alice", in(f, "bob"))
		assertCode(t, err, CodeCrossUserNotAllowed)

		e, err := f.svc.Create(context.Background(), "alice", in(f, "alice"))
		require.NoError(t, err, "naming yourself is not cross-user")
		assert.Equal(t, "alice", e.UserID)
	})

	t.Run("allowed", func(t *testing.T) {
		f := newFixture(t, Policy{EnableRecurrence: true, AllowCrossUserEvents: true})
		e, err := f.svc.Create(context.Background(), "alice", in(f, "bob"))
		require.NoError(t, err)
		assert.Equal(t, "bob", e.UserID)
		assert.Equal(t, "alice", e.CreatedByID)

		_, err = f.svc.Create(context.Background(), "alice", in(f, "dave"))
		assertCode(t, err, CodeNotFamilyMember)
	})
}

func TestGet(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	e := f.create(t, "bob", "Practice", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")

	_, err := f.svc.Get(context.Background(), "dave", "missing")
	assertCode(t, err, CodeNotFound)

	_, err = f.svc.Get(context.Background(), "dave", e.ID)
	assertCode(t, err, CodeNotFamilyMember)

	got, err := f.svc.Get(context.Background(), "carol", e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestUpdateCreatorOnly(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	e := f.create(t, "bob", "Practice", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")
	in := UpdateInput{
		Title:     "Practice (moved)",
		StartTime: at("2024-03-02T09:00:00Z"),
		EndTime:   at("2024-03-02T10:00:00Z"),
	}

	_, err := f.svc.Update(context.Background(), "dave", "missing", in)
	assertCode(t, err, CodeNotFound)

	for _, actor := range []string{"alice", "carol", "dave"} {
		_, err := f.svc.Update(context.Background(), actor, e.ID, in)
		assertCode(t, err, CodeNotEventCreator)
	}

	updated, err := f.svc.Update(context.Background(), "bob", e.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Practice (moved)", updated.Title)
	assert.Nil(t, updated.Description)
	assert.True(t, updated.StartTime.Equal(in.StartTime))
	assert.False(t, updated.UpdatedAt.Before(e.UpdatedAt))

	assert.Equal(t, []string{notify.EventCreated, notify.EventUpdated}, f.pub.types())
}

func TestUpdateSkipsMembership(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	e := f.create(t, "bob", "Practice", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")
	require.NoError(t, f.families.RemoveMember(context.Background(), f.family.ID, "bob"))

	updated, err := f.svc.Update(context.Background(), "bob", e.ID, UpdateInput{
		Title:       "Still mine",
		Description: ptr("removed from the family but still the creator"),
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "Still mine", updated.Title)
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	e := f.create(t, "bob", "Practice", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")

	_, err := f.svc.Update(context.Background(), "bob", e.ID, UpdateInput{
		Title:     "Backwards",
		StartTime: at("2024-03-01T11:00:00Z"),
		EndTime:   at("2024-03-01T10:00:00Z"),
	})
	assertCode(t, err, CodeValidation)
}

func TestDeleteAuthorization(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "dave", "missing")
	assertCode(t, err, CodeNotFound)
	for _, actor := range []string{"alice", "bob", "dave", "nobody"} {
		assertCode(t, f.svc.Delete(ctx, actor, "missing"), CodeNotFound)
	}

	byBob := f.create(t, "bob", "Bob's", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")
	byCarol := f.create(t, "carol", "Carol's", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")

	assertCode(t, f.svc.Delete(ctx, "dave", byBob.ID), CodeNotFamilyMember)
	assertCode(t, f.svc.Delete(ctx, "carol", byBob.ID), CodeNotAuthorized)

	// Creator with the child role.
	require.NoError(t, f.svc.Delete(ctx, "bob", byBob.ID))
	// Parent who did not create it.
	require.NoError(t, f.svc.Delete(ctx, "alice", byCarol.ID))

	_, err = f.svc.Get(ctx, "alice", byBob.ID)
	assertCode(t, err, CodeNotFound)

	types := f.pub.types()
	assert.Equal(t, notify.EventDeleted, types[len(types)-1])
}

func TestDeleteRemovedCreator(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	e := f.create(t, "bob", "Bob's", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")
	require.NoError(t, f.families.RemoveMember(context.Background(), f.family.ID, "bob"))

	assertCode(t, f.svc.Delete(context.Background(), "bob", e.ID), CodeNotFamilyMember)
}

func TestListByFamilyDateFilters(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	f.create(t, "alice", "Dec", "2023-12-30T10:00:00Z", "2023-12-30T11:00:00Z")
	f.create(t, "alice", "Mid Jan", "2024-01-15T10:00:00Z", "2024-01-15T11:00:00Z")
	f.create(t, "alice", "Spans Month End", "2024-01-31T20:00:00Z", "2024-02-01T02:00:00Z")

	titles := func(events []model.CalendarEvent) []string {
		out := []string{}
		for _, e := range events {
			out = append(out, e.Title)
		}
		return out
	}

	jan1, jan31 := at("2024-01-01T00:00:00Z"), at("2024-01-31T00:00:00Z")
	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"no filter", ListFilter{}, []string{"Dec", "Mid Jan", "Spans Month End"}},
		{"start date", ListFilter{StartDate: &jan1}, []string{"Mid Jan", "Spans Month End"}},
		{"end date", ListFilter{EndDate: &jan31}, []string{"Dec", "Mid Jan"}},
		{"both", ListFilter{StartDate: &jan1, EndDate: &jan31}, []string{"Mid Jan"}},
		{"desc", ListFilter{SortOrder: "DESC"}, []string{"Spans Month End", "Mid Jan", "Dec"}},
		{"by title", ListFilter{SortBy: "title"}, []string{"Dec", "Mid Jan", "Spans Month End"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.ListByFamily(context.Background(), "carol", f.family.ID, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(got))
		})
	}
}

func TestListByFamilyRejects(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	_, err := f.svc.ListByFamily(ctx, "dave", f.family.ID, ListFilter{})
	assertCode(t, err, CodeNotFamilyMember)

	// Membership is checked before the sort field.
	_, err = f.svc.ListByFamily(ctx, "dave", f.family.ID, ListFilter{SortBy: "id; DROP TABLE events"})
	assertCode(t, err, CodeNotFamilyMember)

	_, err = f.svc.ListByFamily(ctx, "alice", f.family.ID, ListFilter{SortBy: "id; DROP TABLE events"})
	assertCode(t, err, CodeInvalidSort)

	_, err = f.svc.ListByFamily(ctx, "alice", f.family.ID, ListFilter{SortOrder: "sideways"})
	assertCode(t, err, CodeInvalidSort)

	empty, err := f.svc.ListByFamily(ctx, "dave", f.other.ID, ListFilter{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	f.pub.err = errors.New("broker down")

	e := f.create(t, "alice", "Still saved", "2024-03-01T09:00:00Z", "2024-03-01T10:00:00Z")
	assert.NotEmpty(t, e.ID)
}

func TestSyncExternalCalendars(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	require.NoError(t, f.svc.SyncExternalCalendars(context.Background()))
	assert.Equal(t, []string{notify.CalendarSync}, f.pub.types())
}

func TestHandleUserCreated(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	require.NoError(t, f.svc.HandleUserCreated(context.Background(), "erin", f.family.ID))

	require.Len(t, f.pub.sent, 1)
	n := f.pub.sent[0]
	assert.Equal(t, notify.UserEventsCreated, n.Type)
	assert.Equal(t, f.family.ID, n.FamilyID)
	assert.Equal(t, "erin", n.ActorID)
	assert.Equal(t, map[string]any{"userId": "erin", "familyId": f.family.ID}, n.Payload)
}

func TestHandleFamilyUpdated(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	payload := map[string]any{"action": "member_removed", "userId": "bob"}
	require.NoError(t, f.svc.HandleFamilyUpdated(context.Background(), f.family.ID, payload))

	require.Len(t, f.pub.sent, 1)
	n := f.pub.sent[0]
	assert.Equal(t, notify.FamilyEventsUpdated, n.Type)
	assert.Equal(t, f.family.ID, n.FamilyID)
	assert.Equal(t, payload, n.Payload)
}

func TestBusHooksRequireIDs(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()

	err := f.svc.HandleUserCreated(ctx, "", f.family.ID)
	assert.ErrorIs(t, err, &Error{Code: CodeValidation})
	err = f.svc.HandleUserCreated(ctx, "erin", " ")
	assert.ErrorIs(t, err, &Error{Code: CodeValidation})
	err = f.svc.HandleFamilyUpdated(ctx, "", nil)
	assert.ErrorIs(t, err, &Error{Code: CodeValidation})

	assert.Empty(t, f.pub.sent)
}

func TestBusHookPublishFailureIsNotReturned(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	f.pub.err = errors.New("broker down")

	assert.NoError(t, f.svc.HandleUserCreated(context.Background(), "erin", f.family.ID))
	assert.NoError(t, f.svc.HandleFamilyUpdated(context.Background(), f.family.ID, nil))
	assert.Equal(t, []string{notify.UserEventsCreated, notify.FamilyEventsUpdated}, f.pub.types())
}

type brokenStore struct{ Store }

func (brokenStore) GetByID(context.Context, string) (*model.CalendarEvent, error) {
	return nil, errors.New("disk on fire")
}

func (brokenStore) GetWithFamily(context.Context, string) (*model.CalendarEvent, error) {
	return nil, errors.New("disk on fire")
}

type brokenMembership struct{}

func (brokenMembership) ActiveMember(context.Context, string, string) (*model.FamilyMember, error) {
	return nil, errors.New("oracle unreachable")
}

func TestInternalErrors(t *testing.T) {
	rec := &captureRecorder{}
	svc := NewService(brokenStore{}, brokenMembership{}, nil, defaultPolicy(), slog.Default(), WithRecorder(rec))
	ctx := context.Background()

	_, err := svc.Get(ctx, "alice", "evt")
	assertCode(t, err, CodeInternal)
	status, msg := StatusOf(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", msg)
	assert.NotContains(t, msg, "disk on fire")

	assertCode(t, svc.Delete(ctx, "alice", "evt"), CodeInternal)

	_, err = svc.ListByFamily(ctx, "alice", "fam", ListFilter{})
	assertCode(t, err, CodeInternal)

	assert.Equal(t, []string{"get:INTERNAL", "delete:INTERNAL", "list:INTERNAL"}, rec.ops)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{notFound("x"), http.StatusNotFound},
		{notFamilyMember(), http.StatusForbidden},
		{notEventCreator(), http.StatusForbidden},
		{notAuthorized(), http.StatusForbidden},
		{crossUserNotAllowed(), http.StatusForbidden},
		{Validation("bad"), http.StatusBadRequest},
		{InvalidRecurrence("FREQ=NEVER", nil), http.StatusBadRequest},
		{limitExceeded(3), http.StatusBadRequest},
		{recurrenceDisabled(), http.StatusBadRequest},
		{invalidSort("nope"), http.StatusBadRequest},
		{internal(errors.New("boom")), http.StatusInternalServerError},
		{&Error{Code: "SOMETHING_NEW", Status: http.StatusTeapot}, http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
		{nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := StatusOf(tt.err)
		assert.Equal(t, tt.want, got, "StatusOf(%v)", tt.err)
	}
}
