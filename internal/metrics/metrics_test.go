package metrics_test

import (
	"channels/backend/internal/metrics"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.MessageSent(false)
	m.MessageSent(true)
	m.MessageSent(true)
	m.JobProcessed(metrics.OutcomeDuplicate)
	m.SocketOpened()
	m.SocketOpened()
	m.SocketClosed()
	m.SetOnlineUsers(4)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	series := map[string]int{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			series[f.GetName()]++
			if c := metric.GetCounter(); c != nil {
				byName[f.GetName()] += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				byName[f.GetName()] += g.GetValue()
			}
		}
	}

	assert.Equal(t, 2, series["chat_messages_sent_total"], "one series per kind")
	assert.Equal(t, 3.0, byName["chat_messages_sent_total"])
	assert.Equal(t, 1.0, byName["chat_persist_jobs_total"])
	assert.Equal(t, 1.0, byName["chat_connected_sockets"])
	assert.Equal(t, 4.0, byName["chat_online_users"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.MessageSent(true)
		m.JobProcessed(metrics.OutcomeFailed)
		m.SocketOpened()
		m.SocketClosed()
		m.SetOnlineUsers(1)
	})
}
