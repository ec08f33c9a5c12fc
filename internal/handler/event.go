package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/famevents/internal/auth"
	"github.com/dukerupert/famevents/internal/event"
	"github.com/dukerupert/famevents/internal/ical"
	"github.com/dukerupert/famevents/internal/model"
)

// EventService is the lifecycle the HTTP layer drives.
type EventService interface {
	Create(ctx context.Context, actor string, in event.CreateInput) (*model.CalendarEvent, error)
	Get(ctx context.Context, actor, id string) (*model.CalendarEvent, error)
	Update(ctx context.Context, actor, id string, in event.UpdateInput) (*model.CalendarEvent, error)
	Delete(ctx context.Context, actor, id string) error
	ListByFamily(ctx context.Context, actor, familyID string, f event.ListFilter) ([]model.CalendarEvent, error)
}

type EventHandler struct {
	events EventService
	logger *slog.Logger
}

func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger.With("component", "event_handler")}
}

type createEventRequest struct {
	Title          string                `json:"title" validate:"required,max=200"`
	Description    *string               `json:"description" validate:"omitempty,max=4000"`
	StartTime      time.Time             `json:"startTime" validate:"required"`
	EndTime        time.Time             `json:"endTime" validate:"required,gtefield=StartTime"`
	FamilyID       string                `json:"familyId" validate:"required"`
	AllDay         bool                  `json:"isAllDay"`
	Location       string                `json:"location" validate:"max=500"`
	Status         model.EventStatus     `json:"status" validate:"omitempty,oneof=DRAFT SCHEDULED CONFIRMED CANCELLED COMPLETED"`
	Visibility     model.EventVisibility `json:"visibility" validate:"omitempty,oneof=PRIVATE FAMILY PUBLIC"`
	RecurrenceRule *string               `json:"recurrenceRule" validate:"omitempty,max=500"`
	UserID         string                `json:"userId"`
	TaskID         *string               `json:"taskId"`
	Metadata       map[string]any        `json:"metadata"`
}

type updateEventRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description *string   `json:"description" validate:"omitempty,max=4000"`
	StartTime   time.Time `json:"startTime" validate:"required"`
	EndTime     time.Time `json:"endTime" validate:"required,gtefield=StartTime"`
}

// actor returns the authenticated user, writing a 401 when there is none.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := auth.UserID(r.Context())
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return "", false
	}
	return id, true
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	var req createEventRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		badRequest(w, "title is required")
		return
	}

	e, err := h.events.Create(r.Context(), userID, event.CreateInput{
		Title:          req.Title,
		Description:    req.Description,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		FamilyID:       req.FamilyID,
		AllDay:         req.AllDay,
		Location:       req.Location,
		Status:         req.Status,
		Visibility:     req.Visibility,
		RecurrenceRule: req.RecurrenceRule,
		UserID:         req.UserID,
		TaskID:         req.TaskID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	e, err := h.events.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// Update serves both PUT and PATCH; either way the schedule fields are
// replaced wholesale.
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	var req updateEventRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		badRequest(w, "title is required")
		return
	}

	e, err := h.events.Update(r.Context(), userID, r.PathValue("id"), event.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	if err := h.events.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) ListByFamily(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	filter, err := listFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	events, err := h.events.ListByFamily(r.Context(), userID, r.PathValue("familyId"), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// ExportICS serves the same listing as an iCalendar feed. With expand=true
// and both startDate and endDate set, recurring events are expanded into
// their occurrences within that window.
func (h *EventHandler) ExportICS(w http.ResponseWriter, r *http.Request) {
	userID, ok := actor(w, r)
	if !ok {
		return
	}

	filter, err := listFilter(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var opts ical.Options
	if r.URL.Query().Get("expand") == "true" {
		if filter.StartDate == nil || filter.EndDate == nil {
			badRequest(w, "expand requires startDate and endDate")
			return
		}
		opts.Expand = &ical.Window{From: *filter.StartDate, To: *filter.EndDate}
		// Occurrences are windowed by the expansion, not the stored row.
		filter.StartDate, filter.EndDate = nil, nil
	}

	familyID := r.PathValue("familyId")
	events, err := h.events.ListByFamily(r.Context(), userID, familyID, filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	cal, err := ical.Build(events, opts)
	if err != nil {
		h.logger.Error("build calendar", "family_id", familyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="family-%s.ics"`, familyID))
	w.WriteHeader(http.StatusOK)
	if err := cal.SerializeTo(w); err != nil {
		h.logger.Warn("write calendar", "family_id", familyID, "error", err)
	}
}

func listFilter(r *http.Request) (event.ListFilter, error) {
	start, err := optionalTime(r, "startDate")
	if err != nil {
		return event.ListFilter{}, err
	}
	end, err := optionalTime(r, "endDate")
	if err != nil {
		return event.ListFilter{}, err
	}
	q := r.URL.Query()
	return event.ListFilter{
		StartDate: start,
		EndDate:   end,
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}, nil
}
