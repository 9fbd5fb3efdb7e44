package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedOffset(d time.Duration) offsetQuery {
	return func(string, time.Duration) (time.Duration, error) { return d, nil }
}

func TestNTPClock_AppliesOffset(t *testing.T) {
	// Act
	c := newNTPClock("test", time.Minute, time.Second, 0, fixedOffset(time.Hour))

	// Assert
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.Now(), 5*time.Second)
	s := c.Status()
	assert.True(t, s.Healthy)
	assert.Equal(t, time.Hour, s.Offset)
	assert.NoError(t, s.LastError)
	assert.Equal(t, "ntp:test", c.Source())
}

func TestNTPClock_QueryFailureFallsBackToLocalTime(t *testing.T) {
	c := newNTPClock("test", time.Minute, time.Second, 0,
		func(string, time.Duration) (time.Duration, error) { return 0, errors.New("unreachable") })

	assert.WithinDuration(t, time.Now(), c.Now(), 5*time.Second)
	s := c.Status()
	assert.False(t, s.Healthy)
	assert.Error(t, s.LastError)
}

func TestNTPClock_RetryBacksOffAfterFailures(t *testing.T) {
	calls := 0
	c := newNTPClock("test", time.Hour, time.Second, 0,
		func(string, time.Duration) (time.Duration, error) {
			calls++
			return 0, errors.New("unreachable")
		})
	assert.Equal(t, retryInitial, c.nextSyncAfterLocked())

	// 模拟重试窗口到期
	c.mu.Lock()
	c.lastSync = time.Now().Add(-retryInitial)
	c.mu.Unlock()
	c.Now()

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2*retryInitial, c.nextSyncAfterLocked())
}

func TestNTPClock_OffsetBeyondThresholdIsUnhealthy(t *testing.T) {
	c := newNTPClock("test", time.Minute, time.Second, time.Second, fixedOffset(-2*time.Second))

	assert.False(t, c.Status().Healthy)
}

func TestMockClock_Advance(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	c := NewMockClock(base)

	c.Advance(1500 * time.Millisecond)

	assert.Equal(t, base.UnixMilli()+1500, c.UnixMilli())
	assert.Equal(t, 1500*time.Millisecond, c.Since(base))
}

func TestRegisterClockMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newNTPClock("test", time.Minute, time.Second, 0, fixedOffset(time.Millisecond))

	require.NoError(t, RegisterClockMetrics(reg, c))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)
	assert.Equal(t, "test", families[0].GetMetric()[0].GetLabel()[0].GetValue())
}
