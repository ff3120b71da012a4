package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsmraft/engine/metrics"
	"github.com/rsmraft/engine/rsm"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSetLastAppliedAndLastCompletedUpdateGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SetLastApplied(42)
	m.SetLastCompleted(10)

	assert.Equal(t, float64(42), gaugeValue(t, reg, "rsm_last_applied_index"))
	assert.Equal(t, float64(10), gaugeValue(t, reg, "rsm_last_completed_index"))
}

func TestObserveEntryAppliedIncrementsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveEntryApplied(rsm.EntryCommand)
	m.ObserveEntryApplied(rsm.EntryCommand)
	m.ObserveEntryApplied(rsm.EntryRegister)

	assert.Equal(t, float64(2), counterValue(t, reg, "rsm_entries_applied_total", "COMMAND"))
	assert.Equal(t, float64(1), counterValue(t, reg, "rsm_entries_applied_total", "REGISTER"))
}

func TestObserveCommandErrorIncrementsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveCommandError("user_error")

	assert.Equal(t, float64(1), counterValue(t, reg, "rsm_command_errors_total", "user_error"))
}

func TestObserveApplyDurationRecordsIntoHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveApplyDuration(5 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "rsm_command_apply_duration_seconds" {
			found = true
			assert.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found, "histogram metric not found")
}
