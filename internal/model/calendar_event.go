package model

import (
	"time"

	"github.com/dukerupert/famevents/internal/recurrence"
)

type EventStatus string

const (
	StatusDraft     EventStatus = "DRAFT"
	StatusScheduled EventStatus = "SCHEDULED"
	StatusConfirmed EventStatus = "CONFIRMED"
	StatusCancelled EventStatus = "CANCELLED"
	StatusCompleted EventStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type EventVisibility string

const (
	VisibilityPrivate EventVisibility = "PRIVATE"
	VisibilityFamily  EventVisibility = "FAMILY"
	VisibilityPublic  EventVisibility = "PUBLIC"
)

func (v EventVisibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityFamily, VisibilityPublic:
		return true
	}
	return false
}

type CalendarEvent struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Description    *string            `json:"description,omitempty"`
	StartTime      time.Time          `json:"startTime"`
	EndTime        time.Time          `json:"endTime"`
	AllDay         bool               `json:"isAllDay"`
	Location       string             `json:"location,omitempty"`
	Status         EventStatus        `json:"status"`
	Visibility     EventVisibility    `json:"visibility"`
	RecurrenceRule *string            `json:"recurrenceRule,omitempty"`
	Recurrence     *recurrence.Config `json:"recurrenceConfig,omitempty"`
	UserID         string             `json:"userId"`
	CreatedByID    string             `json:"createdById"`
	FamilyID       string             `json:"familyId"`
	TaskID         *string            `json:"taskId,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	Family         *Family            `json:"family,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

type InvitationRole string

const (
	InvitationOrganizer InvitationRole = "ORGANIZER"
	InvitationAttendee  InvitationRole = "ATTENDEE"
	InvitationOptional  InvitationRole = "OPTIONAL"
)

// EventInvitation links an invited user to an event. Rows go away with
// their event.
type EventInvitation struct {
	ID      string           `json:"id"`
	EventID string           `json:"eventId"`
	UserID  string           `json:"userId"`
	Status  InvitationStatus `json:"status"`
	Role    InvitationRole   `json:"role"`
}

type NotificationMethod string

const (
	NotifyEmail NotificationMethod = "EMAIL"
	NotifySMS   NotificationMethod = "SMS"
	NotifyPush  NotificationMethod = "PUSH_NOTIFICATION"
)

type EventReminder struct {
	ID                 string             `json:"id"`
	EventID            string             `json:"eventId"`
	UserID             string             `json:"userId"`
	ReminderTime       time.Time          `json:"reminderTime"`
	NotificationMethod NotificationMethod `json:"notificationMethod"`
}
