package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRequestsDroppedLabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RequestsDropped.WithLabelValues("parse_error").Inc()
	m.RequestsDropped.WithLabelValues("parse_error").Inc()
	m.RequestsDropped.WithLabelValues("too_short").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var got map[string]float64 = map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != namespace+"_requests_dropped_total" {
			continue
		}
		for _, m := range fam.Metric {
			var reason string
			for _, l := range m.Label {
				if l.GetName() == "reason" {
					reason = l.GetValue()
				}
			}
			got[reason] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(2), got["parse_error"])
	require.Equal(t, float64(1), got["too_short"])
}

func TestCountersStartAtZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	var out dto.Metric
	require.NoError(t, m.RequestsReceived.Write(&out))
	require.Equal(t, float64(0), out.GetCounter().GetValue())
}
