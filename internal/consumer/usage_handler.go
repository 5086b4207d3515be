package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/daytrack/internal/domain"
	"example.com/daytrack/internal/events"
)

// nearCapacityRatio marks a day as nearly full once 80% of its budget is used.
const nearCapacityRatio = 0.8

var (
	dayUtilizationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daytrack",
		Subsystem: "insights",
		Name:      "day_utilization_ratio",
		Help:      "Fraction of the 1440-minute day budget in use after each mutation.",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	nearCapacityCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daytrack",
		Subsystem: "insights",
		Name:      "near_capacity_days_total",
		Help:      "Number of day-total updates at or above 80% of the day budget.",
	})
)

func init() {
	prometheus.MustRegister(dayUtilizationHistogram, nearCapacityCounter)
}

// UsageHandler derives capacity-utilization insights from day.total_changed
// events. Other event types on the timeline topic are acknowledged untouched.
type UsageHandler struct{}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler() *UsageHandler {
	return &UsageHandler{}
}

// Handle observes the utilization ratio carried by a day total update.
func (h *UsageHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "day.total_changed" {
		return nil
	}

	var event events.DayTotalChanged
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode day.total_changed: %w", err)
	}
	if event.TotalMinutes < 0 || event.TotalMinutes > domain.DayCapacityMinutes {
		return fmt.Errorf("total_minutes out of range: %d", event.TotalMinutes)
	}

	ratio := float64(event.TotalMinutes) / float64(domain.DayCapacityMinutes)
	dayUtilizationHistogram.Observe(ratio)
	if ratio >= nearCapacityRatio {
		nearCapacityCounter.Inc()
	}
	return nil
}
