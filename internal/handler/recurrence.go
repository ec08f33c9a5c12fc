package handler

import (
	"net/http"
	"strings"

	"github.com/dukerupert/famevents/internal/event"
	"github.com/dukerupert/famevents/internal/recurrence"
)

type recurrenceResponse struct {
	Rule        string            `json:"rule"`
	Description string            `json:"description"`
	Config      recurrence.Config `json:"config"`
}

// ParseRecurrence previews how a rule will be stored, without creating
// anything.
func ParseRecurrence(w http.ResponseWriter, r *http.Request) {
	rule := strings.TrimSpace(r.URL.Query().Get("rule"))
	if rule == "" {
		badRequest(w, "rule is required")
		return
	}

	c, err := recurrence.Parse(rule)
	if err != nil {
		status, msg := event.StatusOf(event.InvalidRecurrence(rule, err))
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, recurrenceResponse{
		Rule:        c.String(),
		Description: c.Describe(),
		Config:      c,
	})
}
