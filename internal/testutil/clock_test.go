package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualClock_NowOnlyMovesOnAdvance(t *testing.T) {
	c := NewManualClock(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(5 * time.Second)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
}

func TestManualClock_FiresInDeadlineOrder(t *testing.T) {
	c := NewManualClock(epoch)
	var order []string

	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(10*time.Second, func() { order = append(order, "late") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 1, c.Pending())
}

func TestManualClock_Stop(t *testing.T) {
	c := NewManualClock(epoch)
	fired := false

	tm := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestManualClock_CallbackSeesDeadline(t *testing.T) {
	c := NewManualClock(epoch)
	var at time.Time

	c.AfterFunc(time.Second, func() { at = c.Now() })
	c.Advance(time.Minute)

	assert.Equal(t, epoch.Add(time.Second), at)
	assert.Equal(t, epoch.Add(time.Minute), c.Now())
}

func TestManualClock_CallbackMaySchedule(t *testing.T) {
	c := NewManualClock(epoch)
	count := 0

	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}
