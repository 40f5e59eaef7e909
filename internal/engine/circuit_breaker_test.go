package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pineapple/pkg/schema"
)

func newTestBreakers(threshold int) (*PluginBreakers, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewPluginBreakers(BreakerConfig{Threshold: threshold, Cooldown: 10 * time.Second})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestPluginBreakers_StartsClosed(t *testing.T) {
	b, _ := newTestBreakers(3)
	assert.NoError(t, b.Allow("shell"))
	assert.Equal(t, BreakerClosed, b.State("shell"))
}

func TestPluginBreakers_OpensAfterConsecutiveErrors(t *testing.T) {
	b, _ := newTestBreakers(3)

	b.Record("shell", schema.StateError)
	b.Record("shell", schema.StateError)
	assert.Equal(t, BreakerClosed, b.State("shell"))

	assert.Equal(t, BreakerOpen, b.Record("shell", schema.StateError))

	err := b.Allow("shell")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))

	// Other plugins are unaffected.
	assert.NoError(t, b.Allow("noop"))
}

func TestPluginBreakers_FailureResetsCount(t *testing.T) {
	b, _ := newTestBreakers(2)

	b.Record("shell", schema.StateError)
	b.Record("shell", schema.StateFailure)
	b.Record("shell", schema.StateError)
	assert.Equal(t, BreakerClosed, b.State("shell"))
	assert.NoError(t, b.Allow("shell"))
}

func TestPluginBreakers_HalfOpenProbe(t *testing.T) {
	b, now := newTestBreakers(1)

	b.Record("shell", schema.StateError)
	require.Error(t, b.Allow("shell"))

	*now = now.Add(11 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State("shell"))
	require.NoError(t, b.Allow("shell"))
	// Only one probe at a time.
	assert.Error(t, b.Allow("shell"))

	assert.Equal(t, BreakerClosed, b.Record("shell", schema.StateSuccess))
	assert.NoError(t, b.Allow("shell"))
}

func TestPluginBreakers_FailedProbeReopens(t *testing.T) {
	b, now := newTestBreakers(3)
	for i := 0; i < 3; i++ {
		b.Record("shell", schema.StateError)
	}

	*now = now.Add(11 * time.Second)
	require.NoError(t, b.Allow("shell"))
	assert.Equal(t, BreakerOpen, b.Record("shell", schema.StateError))
	assert.Error(t, b.Allow("shell"))
}

func TestPluginBreakers_DisabledAndNil(t *testing.T) {
	b := NewPluginBreakers(BreakerConfig{})
	for i := 0; i < 10; i++ {
		b.Record("shell", schema.StateError)
	}
	assert.NoError(t, b.Allow("shell"))

	var none *PluginBreakers
	assert.NoError(t, none.Allow("shell"))
	assert.Equal(t, BreakerClosed, none.Record("shell", schema.StateError))
	assert.Equal(t, BreakerClosed, none.State("shell"))
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half_open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
