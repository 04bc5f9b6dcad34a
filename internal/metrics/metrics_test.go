package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIndependentPerCollector(t *testing.T) {
	a := NewCollector("orgmem")
	b := NewCollector("orgmem")

	a.NodeCreated(2)
	a.Skipped(1)
	a.ObserveQuery("symbols", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.NodesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RelationshipsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Queries.WithLabelValues("symbols")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.NodesCreated))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.NodeCreated(1)
	c.NodeDeleted()
	c.MirrorFailed()
	c.ObserveQuery("semantic", time.Second)

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("orgmem")
	c.MirrorFailed()

	srv := httptest.NewServer(c.Middleware(c.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "orgmem_mirror_failures_total 1")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "200")))
}
