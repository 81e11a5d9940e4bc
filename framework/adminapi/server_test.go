package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/amqpgate/framework/rpcmutex"
)

type fakeStatsProvider struct {
	stats rpcmutex.ConnectionStats
}

func (f fakeStatsProvider) GetStats() rpcmutex.ConnectionStats { return f.stats }

func TestServer_StatsReportsConnectionStats(t *testing.T) {
	provider := fakeStatsProvider{stats: rpcmutex.ConnectionStats{
		ServerEndpointCount: 2,
		ClientEndpointCount: 3,
		InFlightCount:       5,
	}}
	srv := NewServer(provider, "amqpgate-test")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"server_endpoint_count":2,"client_endpoint_count":3,"in_flight_count":5}`, rec.Body.String())
}

func TestServer_HealthzReturnsOK(t *testing.T) {
	srv := NewServer(fakeStatsProvider{}, "amqpgate-test")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
