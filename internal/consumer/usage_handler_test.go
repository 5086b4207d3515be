package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/daytrack/internal/events"
)

func dayTotalMessage(t *testing.T, total int) Message {
	t.Helper()

	payload, err := json.Marshal(events.DayTotalChanged{
		OwnerID:      "owner-1",
		Day:          "2024-03-15",
		TotalMinutes: total,
		Remaining:    1440 - total,
	})
	require.NoError(t, err)

	return Message{
		Topic:     "day_totals",
		EventType: "day.total_changed",
		OwnerID:   "owner-1",
		Payload:   payload,
	}
}

func TestUsageHandlerObservesUtilization(t *testing.T) {
	handler := NewUsageHandler()

	require.Equal(t, 1, testutil.CollectAndCount(dayUtilizationHistogram))

	samplesBefore := histogramSampleCount(t)

	require.NoError(t, handler.Handle(context.Background(), dayTotalMessage(t, 720)))

	require.Equal(t, samplesBefore+1, histogramSampleCount(t))
}

func TestUsageHandlerCountsNearCapacityDays(t *testing.T) {
	handler := NewUsageHandler()

	before := testutil.ToFloat64(nearCapacityCounter)

	// 1151/1440 sits just under the 80% threshold, 1152 is exactly on it.
	require.NoError(t, handler.Handle(context.Background(), dayTotalMessage(t, 1151)))
	require.Equal(t, before, testutil.ToFloat64(nearCapacityCounter))

	require.NoError(t, handler.Handle(context.Background(), dayTotalMessage(t, 1152)))
	require.Equal(t, before+1, testutil.ToFloat64(nearCapacityCounter))

	require.NoError(t, handler.Handle(context.Background(), dayTotalMessage(t, 1440)))
	require.Equal(t, before+2, testutil.ToFloat64(nearCapacityCounter))
}

func TestUsageHandlerIgnoresOtherEventTypes(t *testing.T) {
	handler := NewUsageHandler()

	samplesBefore := histogramSampleCount(t)

	msg := Message{
		Topic:     "activity_timeline",
		EventType: "activity.logged",
		OwnerID:   "owner-1",
		Payload:   json.RawMessage(`{"activity_id":"abc"}`),
	}
	require.NoError(t, handler.Handle(context.Background(), msg))

	require.Equal(t, samplesBefore, histogramSampleCount(t))
}

func TestUsageHandlerRejectsOutOfRangeTotals(t *testing.T) {
	handler := NewUsageHandler()

	require.Error(t, handler.Handle(context.Background(), dayTotalMessage(t, 1441)))
	require.Error(t, handler.Handle(context.Background(), dayTotalMessage(t, -1)))
}

func TestUsageHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewUsageHandler()

	msg := Message{
		Topic:     "day_totals",
		EventType: "day.total_changed",
		Payload:   json.RawMessage(`{"total_minutes":"not-a-number"}`),
	}
	require.Error(t, handler.Handle(context.Background(), msg))
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, dayUtilizationHistogram.Write(metric))
	return metric.GetHistogram().GetSampleCount()
}
