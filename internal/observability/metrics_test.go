package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldalias/internal/observability/metrics"
)

func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			assert.NoError(t, err)
			if assert.NotNil(t, m) {
				assert.NotNil(t, m.Registry())
				assert.NotNil(t, m.Alias)
			}
		})
	}
	wg.Wait()
}

func TestSnapshotAndSummary(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Alias.RecordAliasAdd(metrics.ResultAdded)
	m.Alias.RecordAliasAdd(metrics.ResultAdded)
	m.Alias.RecordFlush(metrics.StatusSuccess, 5, 0.02)
	m.Alias.SetPending(3)

	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 2, snap[`fieldalias_alias_adds_total{result="added"}`], 0)
	assert.InDelta(t, 1, snap["fieldalias_flush_batch_size_count"], 0)
	assert.InDelta(t, 5, snap["fieldalias_flush_batch_size_sum"], 0)
	assert.InDelta(t, 3, snap["fieldalias_pending_aliases"], 0)

	var buf bytes.Buffer
	require.NoError(t, m.WriteSummary(&buf))
	out := buf.String()
	assert.Contains(t, out, "fieldalias_pending_aliases 3\n")
	assert.NotContains(t, out, "fieldalias_index_records", "zero series are omitted")
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Alias.RecordQuery(metrics.QueryExact, 0.0001)

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `fieldalias_queries_total{kind="exact"} 1`))
}

func TestNewEndpointRequiresAddress(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint("", m)
	require.Error(t, err)
	e, err := NewEndpoint("127.0.0.1:0", m)
	require.NoError(t, err)
	assert.Same(t, m, e.GetMetrics())
}
