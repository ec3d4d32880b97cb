package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ConnectionAccepted("tcp")
		m.GroupFormed()
		m.Relayed("RACE_EVENT")
		m.Evicted(3)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ConnectionAccepted("tcp")
	m.ConnectionAccepted("tcp")
	m.ConnectionAccepted("grpc")
	m.Relayed("HEARTBEAT")
	m.Evicted(2)
	m.MemberStarted()
	m.MemberStarted()
	m.MemberStopped()

	require.Equal(t, 2.0, testutil.ToFloat64(m.connections.WithLabelValues("tcp")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("grpc")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.relayed.WithLabelValues("HEARTBEAT")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.evictions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.activeMembers))

	n, err := testutil.GatherAndCount(reg, "camelrace_connections_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
