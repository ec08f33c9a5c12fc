// Package health reports whether the event store is reachable and how much
// it holds.
package health

import (
	"context"
	"fmt"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Stats is the aggregate view of the event store a health check needs.
type Stats interface {
	Stats(ctx context.Context) (count int, lastCreated *time.Time, err error)
}

type Report struct {
	Status            string     `json:"status"`
	EventCount        int        `json:"eventCount"`
	LastEventCreated  *time.Time `json:"lastEventCreated,omitempty"`
	DatabaseConnected bool       `json:"databaseConnected"`
	Error             string     `json:"error,omitempty"`
}

// Healthy reports whether the check succeeded.
func (r Report) Healthy() bool { return r.Status == StatusHealthy }

type Checker struct {
	stats   Stats
	timeout time.Duration
}

func NewChecker(stats Stats, timeout time.Duration) *Checker {
	return &Checker{stats: stats, timeout: timeout}
}

// Check queries the store. It never panics: any failure, including a
// panicking store, comes back as an unhealthy report.
func (c *Checker) Check(ctx context.Context) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			report = Report{Status: StatusUnhealthy, Error: fmt.Sprint(r)}
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	count, last, err := c.stats.Stats(ctx)
	if err != nil {
		return Report{Status: StatusUnhealthy, Error: err.Error()}
	}
	return Report{
		Status:            StatusHealthy,
		EventCount:        count,
		LastEventCreated:  last,
		DatabaseConnected: true,
	}
}
