// Package metrics holds the Prometheus collectors for famevents. All
// collectors live on a private registry served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "famevents"

// Registry is the registry every famevents collector is attached to.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// EventOperations counts lifecycle operations by op (create, get, update,
// delete, list, sync) and outcome (ok or an error code).
var EventOperations = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_operations_total",
		Help:      "Calendar event lifecycle operations by operation and outcome",
	},
	[]string{"op", "outcome"},
)

// NotificationsPublished counts notifications handed to the publisher,
// labelled by type and whether publishing failed.
var NotificationsPublished = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_published_total",
		Help:      "Notifications published by type and result",
	},
	[]string{"type", "result"},
)

// RecordOperation increments EventOperations.
func RecordOperation(op, outcome string) {
	EventOperations.WithLabelValues(op, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Recorder feeds lifecycle outcomes into the collectors above.
type Recorder struct{}

func (Recorder) RecordOperation(op, outcome string) {
	RecordOperation(op, outcome)
}

func (Recorder) RecordNotification(typ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	NotificationsPublished.WithLabelValues(typ, result).Inc()
}
