package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateKeys(t *testing.T) {
	r := NewRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "svc_ops_total"})
	require.NoError(t, r.Register("poller", "ops", c1))

	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "svc_other_total"})
	err := r.Register("poller", "ops", c2)
	assert.Error(t, err)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "svc_ops_total"})
	require.NoError(t, r.Register("poller", "ops", c))

	assert.True(t, r.Unregister("poller", "ops"))
	assert.False(t, r.Unregister("poller", "ops"))

	// Key is free again after unregistration.
	assert.NoError(t, r.Register("poller", "ops", c))
}

func TestCoreMetricsRecord(t *testing.T) {
	r := NewRegistry()
	core := r.Core

	core.RecordEventReceived("DM", "webhook")
	core.RecordEventReceived("DM", "webhook")
	core.RecordEventProcessed("DM", "succeeded", 20*time.Millisecond)
	core.RecordDuplicate()
	core.RecordExecution("succeeded", 50*time.Millisecond)
	core.RecordNodeExecution("SEND_DM", "succeeded")
	core.RecordProviderCall("instagram", "send_dm", "ok", 10*time.Millisecond)
	core.RecordNATSStatus(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(core.EventsReceived.WithLabelValues("DM", "webhook")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.EventsProcessed.WithLabelValues("DM", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.DuplicatesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ExecutionsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NodeExecutions.WithLabelValues("SEND_DM", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))
}
