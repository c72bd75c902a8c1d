// Package metrics exposes Prometheus counters for attendance outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckIns counts face check-in attempts by outcome
// (recorded, duplicate, no_match, extraction_failed, error).
var CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_checkins_total",
	Help: "Face check-in attempts by outcome.",
}, []string{"outcome"})

// BulkItems counts bulk-apply items by result.
var BulkItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_bulk_items_total",
	Help: "Bulk attendance items by result.",
}, []string{"result"})

// SweepsMarked counts records created by absence sweeps.
var SweepsMarked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rollcall_sweep_absences_total",
	Help: "Absent records created by the sweep worker.",
})
