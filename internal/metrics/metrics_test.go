package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.EventPublished("heading-changed")
	m.EventPublished("heading-changed")
	m.EventDropped("figure-changed")
	m.Commit("figures", OutcomeCommitted)
	m.Commit("figures", OutcomeNoop)
	m.CacheHit("figures")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("heading-changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped.WithLabelValues("figure-changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("figures", OutcomeNoop)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("figures")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventPublished("x")
		m.EventDropped("x")
		m.EventDeduplicated("x")
		m.EventDelivered("x")
		m.HandlerFailed("x")
		m.SetQueueDepth(3)
		m.ParseError()
		m.Commit("s", OutcomeCommitted)
		m.CacheHit("s")
		m.CacheMiss("s")
		m.SetLiveStates("s", 1)
		m.Recompute("heading", OutcomeCommitted, time.Millisecond)
	})
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ParseError()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.parseErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.parseErrors))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Recompute("figure", OutcomeCommitted, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `annosync_recomputes_total{kind="figure",outcome="committed"} 1`), body)
	assert.Contains(t, body, "annosync_recompute_duration_seconds_bucket")
}
