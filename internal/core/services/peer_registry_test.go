package services

import (
	"testing"
	"time"

	"peerboard/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*PeerRegistry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewPeerRegistry(domain.Participant{ID: "local", DisplayName: "Me", Color: "#ef4444"})
	r.now = clock.Now
	return r, clock
}

func TestPeerRegistry_LocalParticipant(t *testing.T) {
	r, _ := newTestRegistry()

	local := r.Local()
	assert.Equal(t, domain.ParticipantID("local"), local.ID)
	assert.True(t, local.IsLocal)
	assert.Equal(t, domain.StatusConnected, local.Status)
	assert.Equal(t, domain.RoleGuest, local.Role)

	assert.False(t, r.Remove("local"), "local participant must not be removable")
	assert.True(t, r.Contains("local"))
}

func TestPeerRegistry_AddAndLifecycle(t *testing.T) {
	r, _ := newTestRegistry()

	require.True(t, r.Add("p1", "Alice", "#3b82f6", domain.RoleHost))
	p, ok := r.Get("p1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusConnecting, p.Status)
	assert.False(t, p.IsLocal)

	assert.False(t, r.Add("p1", "Alice 2", "", domain.RoleHost), "second add is not new")
	p, _ = r.Get("p1")
	assert.Equal(t, "Alice 2", p.DisplayName)
	assert.Equal(t, "#3b82f6", p.Color)

	assert.True(t, r.SetStatus("p1", domain.StatusConnected))
	assert.Len(t, r.Online(), 2)

	assert.True(t, r.UpdateCursor("p1", 10, 20, true))
	p, _ = r.Get("p1")
	assert.Equal(t, domain.Cursor{X: 10, Y: 20, Visible: true}, p.Cursor)

	assert.True(t, r.Remove("p1"))
	assert.False(t, r.Contains("p1"))
	assert.False(t, r.SetStatus("p1", domain.StatusConnected))
	assert.False(t, r.UpdateInfo("p1", "x", "y"))
}

func TestPeerRegistry_AddCannotReplaceLocal(t *testing.T) {
	r, _ := newTestRegistry()

	assert.False(t, r.Add("local", "Impostor", "#000000", domain.RoleHost))
	assert.Equal(t, "Me", r.Local().DisplayName)
}

func TestPeerRegistry_StaleAndClear(t *testing.T) {
	r, clock := newTestRegistry()
	r.Add("old", "Old", "", domain.RoleGuest)
	clock.Advance(time.Minute)
	r.Add("fresh", "Fresh", "", domain.RoleGuest)

	stale := r.Stale(30 * time.Second)
	require.Len(t, stale, 1)
	assert.Equal(t, domain.ParticipantID("old"), stale[0].ID)

	r.Touch("old")
	assert.Empty(t, r.Stale(30*time.Second))

	r.Clear()
	all := r.All()
	require.Len(t, all, 1)
	assert.True(t, all[0].IsLocal)
}
