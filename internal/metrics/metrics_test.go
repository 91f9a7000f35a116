package metrics

import (
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/trapbridge/trap"
)

// counterValue finds the counter in family name whose labels include want.
func counterValue(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric.GetLabel(), want) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(labels []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, l := range labels {
		if v, ok := want[l.GetName()]; ok && v == l.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestRecordGuestCall(t *testing.T) {
	m := New()
	m.RecordGuestCall("wasm", "completed", time.Millisecond)
	m.RecordGuestCall("wasm", "completed", time.Millisecond)
	m.RecordGuestCall("js", "aborted", time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m, "trapbridge_guest_calls_total",
		map[string]string{"engine": "wasm", "outcome": "completed"}))
	assert.Equal(t, 1.0, counterValue(t, m, "trapbridge_guest_calls_total",
		map[string]string{"engine": "js", "outcome": "aborted"}))
}

func TestRecordTrap(t *testing.T) {
	m := New()
	m.RecordTrap(trap.New(trap.IntegerDivideByZero, ""))
	m.RecordTrap(nil)

	assert.Equal(t, 1.0, counterValue(t, m, "trapbridge_traps_total",
		map[string]string{"code": "integer_divide_by_zero"}))
}

func TestRecordHostCall(t *testing.T) {
	m := New()
	m.RecordHostCall("echo", time.Microsecond, nil)
	m.RecordHostCall("echo", time.Microsecond, errors.New("boom"))

	assert.Equal(t, 1.0, counterValue(t, m, "trapbridge_host_calls_total",
		map[string]string{"function": "echo", "status": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, m, "trapbridge_host_calls_total",
		map[string]string{"function": "echo", "status": "error"}))
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordTrap(trap.New(trap.Unreachable, ""))

	assert.Equal(t, 1.0, counterValue(t, a, "trapbridge_traps_total", map[string]string{"code": "unreachable"}))
	assert.Equal(t, 0.0, counterValue(t, b, "trapbridge_traps_total", map[string]string{"code": "unreachable"}))
}
