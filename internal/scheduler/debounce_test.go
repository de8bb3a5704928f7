package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestDebouncer_CollapsesBurst(t *testing.T) {
	clk := testutil.NewManualClock(epoch)
	d := NewDebouncer(clk, 100*time.Millisecond)

	var runs []Generation
	for range 5 {
		d.Trigger("doc", func(g Generation) { runs = append(runs, g) })
		clk.Advance(50 * time.Millisecond)
	}
	assert.Empty(t, runs)
	assert.Equal(t, 1, d.Pending())

	clk.Advance(50 * time.Millisecond)
	assert.Equal(t, []Generation{5}, runs)
	assert.Equal(t, 0, d.Pending())
	assert.True(t, d.Current("doc", 5))
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	clk := testutil.NewManualClock(epoch)
	d := NewDebouncer(clk, 100*time.Millisecond)

	fired := map[ir.DocumentKey]int{}
	d.Trigger("a", func(Generation) { fired["a"]++ })
	clk.Advance(60 * time.Millisecond)
	d.Trigger("b", func(Generation) { fired["b"]++ })
	clk.Advance(60 * time.Millisecond)

	assert.Equal(t, map[ir.DocumentKey]int{"a": 1}, fired)
	clk.Advance(60 * time.Millisecond)
	assert.Equal(t, map[ir.DocumentKey]int{"a": 1, "b": 1}, fired)
}

func TestDebouncer_CancelInvalidatesInFlight(t *testing.T) {
	clk := testutil.NewManualClock(epoch)
	d := NewDebouncer(clk, 10*time.Millisecond)

	var current bool
	d.Trigger("doc", func(g Generation) {
		d.Cancel("doc")
		current = d.Current("doc", g)
	})
	clk.Advance(10 * time.Millisecond)
	assert.False(t, current)

	fired := false
	d.Trigger("doc", func(Generation) { fired = true })
	d.Cancel("doc")
	clk.Advance(time.Second)
	assert.False(t, fired)
}

func TestDebouncer_ClaimSupersedesPending(t *testing.T) {
	clk := testutil.NewManualClock(epoch)
	d := NewDebouncer(clk, 10*time.Millisecond)

	fired := false
	first := d.Trigger("doc", func(Generation) { fired = true })
	claimed := d.Claim("doc")
	clk.Advance(time.Second)

	assert.False(t, fired)
	assert.False(t, d.Current("doc", first))
	assert.True(t, d.Current("doc", claimed))
}

func TestDebouncer_SetDelayAndStop(t *testing.T) {
	clk := testutil.NewManualClock(epoch)
	d := NewDebouncer(clk, 10*time.Millisecond)
	d.SetDelay(time.Second)
	assert.Equal(t, time.Second, d.Delay())

	fired := 0
	d.Trigger("a", func(Generation) { fired++ })
	d.Trigger("b", func(Generation) { fired++ })
	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, 0, fired)

	d.Stop()
	clk.Advance(time.Second)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncer_BusyWhilePendingOrFiring(t *testing.T) {
	clk := testutil.NewManualClock(epoch)
	d := NewDebouncer(clk, 100*time.Millisecond)
	assert.False(t, d.Busy())

	var busyInside bool
	d.Trigger("doc", func(Generation) { busyInside = d.Busy() })
	assert.True(t, d.Busy())

	clk.Advance(100 * time.Millisecond)
	assert.True(t, busyInside)
	assert.False(t, d.Busy())
}
