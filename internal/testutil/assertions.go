// Package testutil provides assertions shared by the bridge's tests.
package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
)

// RequireTrap asserts that err is a *trap.Error with the given code and
// returns it.
func RequireTrap(t *testing.T, err error, code trap.Code, msgAndArgs ...interface{}) *trap.Error {
	t.Helper()

	require.Error(t, err, msgAndArgs...)
	var te *trap.Error
	require.ErrorAs(t, err, &te, msgAndArgs...)
	require.Equal(t, code, te.Code(), "trap code of %v", err)
	assert.ErrorIs(t, err, trap.ErrTrap)
	return te
}

// RequireNotTrap asserts that err is a non-trap error.
func RequireNotTrap(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()

	require.Error(t, err, msgAndArgs...)
	_, isTrap := trap.CodeOf(err)
	require.False(t, isTrap, "unexpected trap: %v", err)
}

// AssertIdle asserts that no guest call is active on th, which is the
// state every top-level call must leave behind.
func AssertIdle(t *testing.T, th *trampoline.Thread) {
	t.Helper()
	assert.Equal(t, 0, th.Depth(), "scope registry not empty")
	assert.False(t, th.Active())
}

// AssertJSONEqual decodes both documents and compares the values, so
// key order and whitespace in encoded reports do not matter.
func AssertJSONEqual(t *testing.T, want, got string, msgAndArgs ...interface{}) {
	t.Helper()

	var wantValue, gotValue interface{}
	require.NoError(t, json.Unmarshal([]byte(want), &wantValue), "want is not JSON")
	require.NoError(t, json.Unmarshal([]byte(got), &gotValue), "got is not JSON: %s", got)
	assert.Equal(t, wantValue, gotValue, msgAndArgs...)
}

// AssertDurationWithin asserts that elapsed is no further than slack from
// want, e.g. that a call stopped close to its deadline.
func AssertDurationWithin(t *testing.T, want, elapsed, slack time.Duration, msgAndArgs ...interface{}) {
	t.Helper()

	diff := elapsed - want
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, slack, msgAndArgs...)
}

// AssertMapContains asserts that a map contains all expected key-value pairs
func AssertMapContains(t *testing.T, expectedMap, actualMap map[string]interface{}, msgAndArgs ...interface{}) {
	t.Helper()

	for key, expectedValue := range expectedMap {
		actualValue, ok := actualMap[key]
		assert.True(t, ok, "map should contain key %q", key)
		assert.Equal(t, expectedValue, actualValue, msgAndArgs...)
	}
}

// RequireLogged asserts that exactly one entry with message was logged
// and returns its fields.
func RequireLogged(t *testing.T, logs *observer.ObservedLogs, message string) map[string]interface{} {
	t.Helper()

	entries := logs.FilterMessage(message).All()
	require.Len(t, entries, 1, "log entries with message %q", message)
	return entries[0].ContextMap()
}
