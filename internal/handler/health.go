package handler

import (
	"context"
	"net/http"

	"github.com/dukerupert/famevents/internal/health"
)

type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Health always answers 200; an unreachable store shows up as
// "unhealthy" in the body.
func Health(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checker.Check(r.Context()))
	}
}
