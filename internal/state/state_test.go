package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/testutil"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *testutil.ManualClock, *recorder) {
	t.Helper()
	clk := testutil.NewManualClock(epoch)
	s := NewStore("figures", append([]Option{WithClock(clk)}, opts...)...)
	rec := &recorder{}
	s.Notifier().Subscribe(rec.listen)
	t.Cleanup(s.Close)
	return s, clk, rec
}

func figures(n int) []ir.Entry {
	out := make([]ir.Entry, n)
	for i := range out {
		out[i] = fig(fmt.Sprintf("f%d", i+1), ir.EntryImage, i+1)
	}
	return out
}

func TestCommit_CreatesVersionedState(t *testing.T) {
	s, _, rec := newTestStore(t)

	res, err := s.Commit("doc", figures(2), WithSource("figure-updater"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(1), res.State.Version)
	assert.Equal(t, epoch, res.State.LastUpdated)

	got, ok := s.Get("doc")
	require.True(t, ok)
	assert.Equal(t, figures(2), got.Payload)
	assert.False(t, got.Loading)
	assert.NoError(t, got.Err)

	s.Notifier().Flush()
	notes := rec.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "figure-updater", notes[0].Source)
}

func TestCommit_Idempotent(t *testing.T) {
	s, _, rec := newTestStore(t)

	first, err := s.Commit("doc", figures(3))
	require.NoError(t, err)
	second, err := s.Commit("doc", figures(3))
	require.NoError(t, err)

	assert.False(t, second.Changed)
	assert.Equal(t, first.State.Version, second.State.Version)

	s.Notifier().Flush()
	assert.Len(t, rec.all(), 1, "no-op commit must not notify")
}

func TestCommit_ForceBumpsVersion(t *testing.T) {
	s, _, _ := newTestStore(t)

	first, err := s.Commit("doc", figures(1))
	require.NoError(t, err)
	forced, err := s.Commit("doc", figures(1), Force())
	require.NoError(t, err)

	assert.True(t, forced.Changed)
	assert.Greater(t, forced.State.Version, first.State.Version)
}

func TestCommit_MonotonicVersions(t *testing.T) {
	s, _, rec := newTestStore(t)

	var last int64
	for i := 1; i <= 20; i++ {
		res, err := s.Commit("doc", figures(i))
		require.NoError(t, err)
		assert.Greater(t, res.State.Version, last)
		last = res.State.Version

		// interleave another key
		_, err = s.Commit("other", figures(i))
		require.NoError(t, err)
	}

	s.Notifier().Flush()
	var prev int64
	for _, n := range rec.all() {
		if n.Key != "doc" {
			continue
		}
		assert.Greater(t, n.State.Version, prev)
		prev = n.State.Version
	}
}

func TestCommit_RejectsInvalidAndKeepsState(t *testing.T) {
	s, _, _ := newTestStore(t)

	good, err := s.Commit("doc", figures(1))
	require.NoError(t, err)

	bad := []ir.Entry{fig("f1", ir.EntryImage, 1), fig("f1", ir.EntryImage, 2)}
	_, err = s.Commit("doc", bad)
	require.Error(t, err)
	assert.True(t, ir.IsValidationError(err))
	assert.Contains(t, ir.ValidationReasons(err), "duplicate id: f1")

	got, ok := s.Get("doc")
	require.True(t, ok)
	assert.Equal(t, good.State.Version, got.Version)
	assert.Equal(t, figures(1), got.Payload)
}

func TestCommit_RejectsInvalidForNewKey(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Commit("doc", []ir.Entry{fig("f1", ir.EntryImage, 2)})
	require.Error(t, err)
	_, ok := s.Get("doc")
	assert.False(t, ok)
}

func TestCommit_SkipValidation(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Commit("doc", []ir.Entry{fig("f1", ir.EntryImage, 5)}, SkipValidation())
	assert.NoError(t, err)
}

func TestCommit_ReturnsCopies(t *testing.T) {
	s, _, _ := newTestStore(t)

	payload := figures(1)
	res, err := s.Commit("doc", payload)
	require.NoError(t, err)

	payload[0].Caption = "mutated by caller"
	res.State.Payload[0].Caption = "mutated via result"

	got, _ := s.Get("doc")
	assert.Equal(t, "c f1", got.Payload[0].Caption)
}

func TestSetLoadingAndError(t *testing.T) {
	s, _, _ := newTestStore(t)

	committed, err := s.Commit("doc", figures(2))
	require.NoError(t, err)

	s.SetLoading("doc", true)
	got, _ := s.Get("doc")
	assert.True(t, got.Loading)
	assert.Equal(t, committed.State.Version, got.Version, "loading alone keeps the version")

	fetchErr := ir.NewFetchError("doc", "FetchOutline", errors.New("timeout"))
	s.SetError("doc", fetchErr)
	got, _ = s.Get("doc")
	assert.False(t, got.Loading, "an error clears loading")
	assert.ErrorIs(t, got.Err, fetchErr)
	assert.Equal(t, figures(2), got.Payload, "last good payload retained")
	assert.Greater(t, got.Version, committed.State.Version)

	s.SetLoading("doc", true)
	got, _ = s.Get("doc")
	assert.True(t, got.Loading)
	assert.NoError(t, got.Err, "loading and error are mutually exclusive")
}

func TestCommit_NoopSettlesLoading(t *testing.T) {
	s, _, _ := newTestStore(t)

	first, err := s.Commit("doc", figures(1))
	require.NoError(t, err)
	s.SetLoading("doc", true)

	res, err := s.Commit("doc", figures(1))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.False(t, res.State.Loading)
	assert.Equal(t, first.State.Version, res.State.Version)
}

func TestSetLoading_UnknownKey(t *testing.T) {
	s, _, _ := newTestStore(t)

	s.SetLoading("doc", false)
	_, ok := s.Get("doc")
	assert.False(t, ok)

	s.SetLoading("doc", true)
	got, ok := s.Get("doc")
	require.True(t, ok)
	assert.True(t, got.Loading)
	assert.Empty(t, got.Payload)
}

func TestClear(t *testing.T) {
	s, _, rec := newTestStore(t)

	_, err := s.Commit("doc", figures(1))
	require.NoError(t, err)
	s.Clear("doc")
	s.Clear("doc")

	_, ok := s.Get("doc")
	assert.False(t, ok)
	_, ok = s.Read("doc")
	assert.False(t, ok, "cache must not resurrect a cleared state")

	s.Notifier().Flush()
	notes := rec.all()
	require.Len(t, notes, 2)
	assert.Equal(t, NotificationCleared, notes[1].Kind)
}

func TestRead_ThroughCache(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, ok := s.Read("doc")
	assert.False(t, ok)

	_, err := s.Commit("doc", figures(1))
	require.NoError(t, err)

	st, ok := s.Read("doc")
	require.True(t, ok)
	assert.Equal(t, int64(1), st.Version)

	stats := s.Stats()
	assert.Equal(t, 1, stats.LiveKeys)
	assert.Equal(t, uint64(1), stats.Cache.Hits)
}

func TestRead_CacheLossIsHarmless(t *testing.T) {
	s, clk, _ := newTestStore(t, WithCache(1, time.Minute))

	_, err := s.Commit("a", figures(1))
	require.NoError(t, err)
	_, err = s.Commit("b", figures(2))
	require.NoError(t, err)

	// a was evicted from the single-slot cache
	clk.Advance(2 * time.Minute)
	st, ok := s.Read("a")
	require.True(t, ok)
	assert.Len(t, st.Payload, 1)
}

func TestSweep_IdleEviction(t *testing.T) {
	s, clk, rec := newTestStore(t, WithIdleTTL(30*time.Minute))

	_, err := s.Commit("idle", figures(1))
	require.NoError(t, err)
	_, err = s.Commit("busy", figures(1))
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	s.Get("busy")
	clk.Advance(15 * time.Minute)

	evicted := s.Sweep()
	assert.Equal(t, []ir.DocumentKey{"idle"}, evicted)
	assert.Equal(t, []ir.DocumentKey{"busy"}, s.Keys())

	s.Notifier().Flush()
	var cleared int
	for _, n := range rec.all() {
		if n.Kind == NotificationCleared {
			cleared++
		}
	}
	assert.Equal(t, 1, cleared)
}

func TestRun_SweepsOnClockInterval(t *testing.T) {
	s, clk, _ := newTestStore(t, WithIdleTTL(30*time.Minute), WithCleanupInterval(10*time.Minute))
	_, err := s.Commit("idle", figures(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for range 3 {
		require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, 1, s.Stats().LiveKeys, "not idle before the TTL")
		clk.Advance(10 * time.Minute)
	}
	require.Eventually(t, func() bool { return s.Stats().LiveKeys == 0 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCommit_ConcurrentSameKey(t *testing.T) {
	s, _, rec := newTestStore(t)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Commit("doc", figures(n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	s.Notifier().Flush()

	var prev int64
	for _, n := range rec.all() {
		assert.Greater(t, n.State.Version, prev, "notifications arrive in version order")
		prev = n.State.Version
	}

	got, _ := s.Get("doc")
	assert.Equal(t, prev, got.Version, "last notification matches live state")
}
