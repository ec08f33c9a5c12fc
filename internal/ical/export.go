// Package ical renders a family's events as an RFC 5545 calendar.
package ical

import (
	"fmt"
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/dukerupert/famevents/internal/model"
	"github.com/dukerupert/famevents/internal/recurrence"
)

const productID = "-//famevents//Family Calendar//EN"

// Window, when set on Options, expands recurring events into one VEVENT
// per occurrence overlapping [From, To) instead of emitting an RRULE.
type Window struct {
	From time.Time
	To   time.Time
}

type Options struct {
	Name   string
	Expand *Window
}

// Build assembles the calendar.
func Build(events []model.CalendarEvent, opts Options) (*ics.Calendar, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for i := range events {
		e := &events[i]
		if opts.Expand != nil && e.Recurrence != nil {
			occs, err := recurrence.Expand(*e.Recurrence, e.StartTime, e.EndTime, opts.Expand.From, opts.Expand.To)
			if err != nil {
				return nil, fmt.Errorf("expand event %s: %w", e.ID, err)
			}
			for _, occ := range occs {
				uid := fmt.Sprintf("%s-%s", e.ID, occ.Start.UTC().Format("20060102T150405Z"))
				addEvent(cal, uid, e, occ.Start, occ.End)
			}
			continue
		}

		ve := addEvent(cal, e.ID, e, e.StartTime, e.EndTime)
		if e.RecurrenceRule != nil {
			rule := *e.RecurrenceRule
			if e.Recurrence != nil {
				rule = e.Recurrence.String()
			}
			ve.AddRrule(rule)
		}
	}
	return cal, nil
}

// Write serializes the calendar to w.
func Write(w io.Writer, events []model.CalendarEvent, opts Options) error {
	cal, err := Build(events, opts)
	if err != nil {
		return err
	}
	return cal.SerializeTo(w)
}

func addEvent(cal *ics.Calendar, uid string, e *model.CalendarEvent, start, end time.Time) *ics.VEvent {
	ve := cal.AddEvent(uid)
	ve.SetDtStampTime(e.UpdatedAt.UTC())
	ve.SetCreatedTime(e.CreatedAt.UTC())
	ve.SetModifiedAt(e.UpdatedAt.UTC())
	if e.AllDay {
		ve.SetAllDayStartAt(start)
		ve.SetAllDayEndAt(end)
	} else {
		ve.SetStartAt(start.UTC())
		ve.SetEndAt(end.UTC())
	}
	ve.SetSummary(e.Title)
	if e.Description != nil {
		ve.SetDescription(*e.Description)
	}
	if e.Location != "" {
		ve.SetLocation(e.Location)
	}
	ve.SetProperty(ics.ComponentPropertyStatus, icsStatus(e.Status))
	ve.SetProperty(ics.ComponentPropertyClass, icsClass(e.Visibility))
	return ve
}

func icsStatus(s model.EventStatus) string {
	switch s {
	case model.StatusDraft:
		return "TENTATIVE"
	case model.StatusCancelled:
		return "CANCELLED"
	default:
		return "CONFIRMED"
	}
}

func icsClass(v model.EventVisibility) string {
	switch v {
	case model.VisibilityPublic:
		return "PUBLIC"
	case model.VisibilityPrivate:
		return "PRIVATE"
	default:
		return "CONFIDENTIAL"
	}
}
