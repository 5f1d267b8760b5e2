package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAgainstPrivateRegistryWhenNilGiven(t *testing.T) {
	c := New(nil)
	require.NotNil(t, c.Registry())

	c.OpenSlots.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.OpenSlots))
}

func TestNewRegistersAgainstSuppliedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	assert.Same(t, reg, c.Registry())

	c.Evictions.Inc()
	c.Evictions.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.Evictions))
}

func TestRemotePoolConnsIsLabeledByEndpoint(t *testing.T) {
	c := New(nil)
	c.RemotePoolConns.WithLabelValues("s3://bucket").Set(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(c.RemotePoolConns.WithLabelValues("s3://bucket")))
}
