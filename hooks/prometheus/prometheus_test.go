package promhooks

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := New(reg, "test")

	h.SliceHit("svr2:6:s", 3)
	h.SliceHit("svr2:6:t", 2)
	h.SliceMiss("svr2:4:p", "partial")
	h.SliceMiss("svr2:4:p", "partial")
	h.StoreFailed("default/0", "write", errors.New("reset"))
	h.RefreshArmed("sig", 7, 0)
	h.RefreshCycle("sig", 1, "rescheduled")
	h.RefreshCycle("sig", 8, "exhausted")

	assert.Equal(t, 2.0, testutil.ToFloat64(h.hits.WithLabelValues("6")))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.records.WithLabelValues("6")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.misses.WithLabelValues("4", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.storeFailures.WithLabelValues("default/0", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.armed))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.cycles.WithLabelValues("exhausted")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.armedCycles))
}

func TestModuleLabel(t *testing.T) {
	assert.Equal(t, "9999", module("svr2:9999:group"))
	assert.Equal(t, "unknown", module("bare"))
}
