package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localswap/types"
)

func TestRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveRebuild(types.RebuildSucceeded, 150*time.Millisecond)
	r.ObserveRebuild(types.RebuildFailed, time.Second)
	r.ObserveRebuild(types.RebuildSucceeded, time.Millisecond)
	r.ObserveIconCopy(nil)
	r.ObserveIconCopy(errors.New("boom"))
	r.TransportArmed("network")
	r.TransportDisarmed("bluetooth", "stopped")
	r.SessionStateEntered(types.StateSelectApps)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.rebuildOutcomes.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.iconCopies.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transportArmed.WithLabelValues("network")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.transportArmed.WithLabelValues("bluetooth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionStates.WithLabelValues("selectApps")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder(nil)
	r.TransportArmed("network")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "localswap_transport_armed")
}
