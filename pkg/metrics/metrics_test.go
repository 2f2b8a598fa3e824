package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisteredAndExposed(t *testing.T) {
	m := New("settlement")
	m.StateTransitions.WithLabelValues("venta_concentrado", "pendiente_aprobacion", "aprobado").Inc()
	m.SideChannelFailures.WithLabelValues("notification").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("venta_concentrado", "pendiente_aprobacion", "aprobado")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SideChannelFailures.WithLabelValues("notification")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["mineralchain_settlement_state_transitions_total"])
	assert.True(t, names["mineralchain_settlement_side_channel_failures_total"])

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mineralchain_settlement_side_channel_failures_total{channel="notification"} 2`)
}
