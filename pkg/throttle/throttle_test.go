package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_MinimumInterval(t *testing.T) {
	l := New(50 * time.Millisecond)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, l.AllowAt(t0))
	assert.False(t, l.AllowAt(t0.Add(10*time.Millisecond)))
	assert.False(t, l.AllowAt(t0.Add(40*time.Millisecond)))
	assert.True(t, l.AllowAt(t0.Add(60*time.Millisecond)))
	assert.False(t, l.AllowAt(t0.Add(70*time.Millisecond)))
}

func TestLimiter_ZeroIntervalAllowsAll(t *testing.T) {
	l := New(0)
	t0 := time.Now()
	for i := 0; i < 10; i++ {
		assert.True(t, l.AllowAt(t0))
	}

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow())
}

func TestKeyed_IndependentKeys(t *testing.T) {
	k := NewKeyed(20 * time.Millisecond)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, k.AllowAt("a", t0))
	assert.True(t, k.AllowAt("b", t0))
	assert.False(t, k.AllowAt("a", t0.Add(5*time.Millisecond)))
	assert.Equal(t, 2, k.Len())

	k.Forget("a")
	assert.Equal(t, 1, k.Len())
	assert.True(t, k.AllowAt("a", t0.Add(5*time.Millisecond)))
}
