package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesLoggedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daytrack",
		Subsystem: "activities",
		Name:      "logged_total",
		Help:      "Number of activities accepted, labeled by category.",
	}, []string{"category"})

	capacityRejectedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daytrack",
		Subsystem: "activities",
		Name:      "capacity_rejections_total",
		Help:      "Number of mutations rejected for exceeding the 1440-minute day budget.",
	})

	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "daytrack",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity written to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(activitiesLoggedCounter, capacityRejectedCounter, activityPersistGauge)
}

// RecordActivityLogged counts an accepted activity.
func RecordActivityLogged(category string) {
	activitiesLoggedCounter.WithLabelValues(category).Inc()
}

// RecordCapacityRejected counts a capacity rejection. Days are unbounded, so
// the day is not a label.
func RecordCapacityRejected(string) {
	capacityRejectedCounter.Inc()
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}
