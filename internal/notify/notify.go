// Package notify carries lifecycle notifications out of the service to
// whatever sinks the host wires up. Publishing is fire-and-forget: callers
// log failures and carry on.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	EventCreated = "event.created"
	EventUpdated = "event.updated"
	EventDeleted = "event.deleted"
	CalendarSync = "calendar.sync"

	UserEventsCreated   = "user.events.created"
	FamilyEventsUpdated = "family.events.updated"
)

// Notification is the envelope every sink receives.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	FamilyID  string    `json:"familyId,omitempty"`
	EventID   string    `json:"eventId,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// New stamps a notification with a fresh id and the current time.
func New(typ, familyID, eventID, actorID string, payload any) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		FamilyID:  familyID,
		EventID:   eventID,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every publisher. All publishers are
// tried even if some fail.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }
