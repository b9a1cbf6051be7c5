package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 2 }
	cb := New(cfg)

	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	_, err := cb.Execute(failing)
	require.Error(t, err)
	_, err = cb.Execute(failing)
	require.Error(t, err)

	assert.Equal(t, StateOpen, cb.State())

	_, err = cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestNewFederationCircuitBreakersAreIndependent(t *testing.T) {
	fcb := NewFederationCircuitBreakers()
	assert.Equal(t, StateClosed, fcb.PeerEndpoint.State())
	assert.Equal(t, StateClosed, fcb.SupabaseQuery.State())
	assert.NotEqual(t, fcb.PeerEndpoint.Name(), fcb.SupabaseQuery.Name())
}

func TestHealthStatusDegradesWhenBreakerOpen(t *testing.T) {
	fcb := NewFederationCircuitBreakers()
	for i := 0; i < 10; i++ {
		fcb.PeerEndpoint.Execute(func() (interface{}, error) { return nil, errors.New("down") })
	}

	status, _ := fcb.HealthStatus()
	assert.Equal(t, "DEGRADED", status)
}
