package services

import (
	"encoding/json"
	"testing"
	"time"

	"peerboard/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_AddReplicatesToPeers(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b", "user-c")
	net.meshAll()
	a, b, c := net.node("user-a"), net.node("user-b"), net.node("user-c")

	obj, err := a.engine.AddObject(&domain.Object{Type: "circle", Points: []domain.Point{{X: 1, Y: 2}}})
	require.NoError(t, err)
	assert.NotEmpty(t, obj.ID)
	assert.Equal(t, domain.RoomID("calm-board-1"), obj.RoomID)

	net.drain()

	for _, n := range []*testNode{a, b, c} {
		got, ok := n.board.Get(domain.CollectionObjects, obj.ID)
		require.True(t, ok, "node %s", n.id)
		assert.Equal(t, "circle", got.Type)
		assert.Equal(t, []domain.ObjectID{obj.ID}, n.persister.saved[domain.CollectionObjects])
	}
	assert.Positive(t, b.renderer.renders)
}

func TestEngine_ReplayIsIdempotent(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	net.link("user-a", "user-b")
	a, b := net.node("user-a"), net.node("user-b")

	_, err := a.engine.AddObject(shape("r1"))
	require.NoError(t, err)
	_, err = a.engine.UpdateObject("r1", map[string]json.RawMessage{"color": json.RawMessage(`"#000"`)})
	require.NoError(t, err)

	msgs := net.take()
	require.Len(t, msgs, 2)
	for _, d := range append(msgs, msgs...) {
		net.deliver(d)
	}

	list := b.board.List(domain.CollectionObjects)
	require.Len(t, list, 1)
	assert.JSONEq(t, `"#000"`, string(list[0].Props["color"]))
	assert.Len(t, b.persister.saved[domain.CollectionObjects], 3, "duplicate add is not persisted again")
}

func TestEngine_AddDeleteOrderIndependence(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b", "user-c")
	net.link("user-a", "user-b")
	net.link("user-a", "user-c")
	a, b, c := net.node("user-a"), net.node("user-b"), net.node("user-c")

	_, err := a.engine.AddObject(shape("r1"))
	require.NoError(t, err)
	require.NoError(t, a.engine.DeleteObject("r1"))

	var toB, toC []delivery
	for _, d := range net.take() {
		if d.to == b.id {
			toB = append(toB, d)
		} else {
			toC = append(toC, d)
		}
	}
	require.Len(t, toB, 2)
	require.Len(t, toC, 2)

	net.deliver(toB[0])
	net.deliver(toB[1])

	net.deliver(toC[1])
	net.deliver(toC[0])

	for _, n := range []*testNode{a, b, c} {
		assert.False(t, n.board.Contains(domain.CollectionObjects, "r1"), "node %s", n.id)
	}
}

func TestEngine_UpdateOnMissingTargetIsNoop(t *testing.T) {
	net := newTestNet(t, "user-a")
	a := net.node("user-a")

	msg := domain.Message{
		Type: domain.MessageOperation,
		Op:   domain.OpUpdate,
		Data: &domain.OperationData{ObjectID: "ghost", Updates: map[string]json.RawMessage{"x": json.RawMessage(`1`)}},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	a.engine.HandleMessage("user-b", data)
	assert.Empty(t, a.board.List(domain.CollectionObjects))
	assert.Zero(t, a.renderer.renders)
}

func TestEngine_StreamReplayConverges(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	net.link("user-a", "user-b")
	a, b := net.node("user-a"), net.node("user-b")

	_, err := a.engine.StartStream(&domain.Object{ID: "s1", Type: "pencil", Points: []domain.Point{{X: 0, Y: 0}}})
	require.NoError(t, err)

	sent, err := a.engine.AppendStream("s1", domain.Point{X: 1, Y: 1})
	require.NoError(t, err)
	assert.True(t, sent)

	net.clock.Advance(5 * time.Millisecond)
	sent, err = a.engine.AppendStream("s1", domain.Point{X: 2, Y: 2})
	require.NoError(t, err)
	assert.False(t, sent, "append inside the interval is throttled")

	net.clock.Advance(30 * time.Millisecond)
	sent, err = a.engine.AppendStream("s1", domain.Point{X: 3, Y: 3})
	require.NoError(t, err)
	assert.True(t, sent)

	_, err = a.engine.FinishStream("s1")
	require.NoError(t, err)

	msgs := net.take()
	require.Len(t, msgs, 4)
	start, _, append3, finish := msgs[0], msgs[1], msgs[2], msgs[3]

	// first append is lost, the last one arrives after the finish
	net.deliver(start)
	net.deliver(finish)
	net.deliver(append3)

	want, ok := a.board.Get(domain.CollectionObjects, "s1")
	require.True(t, ok)
	got, ok := b.board.Get(domain.CollectionObjects, "s1")
	require.True(t, ok)
	assert.Equal(t, want.Points, got.Points)
	assert.Len(t, got.Points, 4)
	assert.Empty(t, b.board.Staged())
}

func TestEngine_FinishBeforeStartDoesNotStage(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	net.link("user-a", "user-b")
	a, b := net.node("user-a"), net.node("user-b")

	_, err := a.engine.StartStream(&domain.Object{ID: "s1", Type: "pencil"})
	require.NoError(t, err)
	_, err = a.engine.FinishStream("s1")
	require.NoError(t, err)

	msgs := net.take()
	require.Len(t, msgs, 2)
	net.deliver(msgs[1])
	net.deliver(msgs[0])

	assert.True(t, b.board.Contains(domain.CollectionObjects, "s1"))
	assert.Empty(t, b.board.Staged())
}

func TestEngine_LateJoinerUnionMerge(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	a, b := net.node("user-a"), net.node("user-b")

	_, err := a.engine.AddObject(shape("o1"))
	require.NoError(t, err)
	_, err = a.engine.AddSticky(&domain.Object{ID: "n1", Type: "sticky"})
	require.NoError(t, err)
	_, err = a.engine.StartStream(&domain.Object{ID: "s1", Type: "pencil"})
	require.NoError(t, err)
	_, err = b.engine.AddObject(shape("o2"))
	require.NoError(t, err)
	assert.Empty(t, net.take(), "nothing is sent while disconnected")

	net.link("user-a", "user-b")
	a.engine.PeerConnected(b.id)
	b.engine.PeerConnected(a.id)
	net.drain()

	for _, n := range []*testNode{a, b} {
		assert.ElementsMatch(t, []domain.ObjectID{"o1", "o2"}, objectIDs(n.board.List(domain.CollectionObjects)), "node %s", n.id)
		assert.Equal(t, []domain.ObjectID{"n1"}, objectIDs(n.board.List(domain.CollectionStickies)), "node %s", n.id)
	}
	assert.Equal(t, []domain.ObjectID{"s1"}, objectIDs(b.board.Staged()))
	assert.Equal(t, []domain.ObjectID{"o2", "o1"}, objectIDs(b.board.List(domain.CollectionObjects)), "local objects keep their place")

	aSeenByB, ok := b.registry.Get(a.id)
	require.True(t, ok)
	assert.Equal(t, "name-user-a", aSeenByB.DisplayName)
	assert.Equal(t, "#10b981", aSeenByB.Color)
}

func TestEngine_ConcurrentLockRequestsHaveOneWinner(t *testing.T) {
	tests := []struct {
		name    string
		skewB   time.Duration
		winner  domain.ParticipantID
		loserBy domain.ParticipantID
	}{
		{"same timestamp smaller id wins", 0, "user-a", "user-b"},
		{"earlier request wins", -time.Second, "user-b", "user-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := newTestNet(t, "user-a", "user-b")
			net.link("user-a", "user-b")
			a, b := net.node("user-a"), net.node("user-b")

			require.True(t, a.engine.AcquireLock("o1"))
			net.clock.Advance(tt.skewB)
			require.True(t, b.engine.AcquireLock("o1"))
			net.clock.Advance(-tt.skewB)

			net.drain()

			holderA, okA := a.locks.Holder("o1")
			holderB, okB := b.locks.Holder("o1")
			require.True(t, okA)
			require.True(t, okB)
			assert.Equal(t, tt.winner, holderA)
			assert.Equal(t, tt.winner, holderB)

			winner, loser := net.node(tt.winner), net.node(tt.loserBy)
			assert.False(t, winner.locks.IsPending("o1"))
			assert.Equal(t, []domain.ObjectID{"o1"}, loser.renderer.deselected)
			assert.Empty(t, winner.renderer.deselected)
		})
	}
}

func TestEngine_ConcurrentLockRequestsAgreeAcrossThreePeers(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b", "user-c")
	net.meshAll()
	a, b, c := net.node("user-a"), net.node("user-b"), net.node("user-c")

	_, err := a.engine.AddObject(shape("s1"))
	require.NoError(t, err)
	net.drain()

	require.True(t, b.engine.AcquireLock("s1"))
	net.clock.Advance(time.Millisecond)
	require.True(t, a.engine.AcquireLock("s1"))

	// c hears a's later request before b's earlier one.
	inFlight := net.take()
	var first []delivery
	var rest []delivery
	for _, d := range inFlight {
		if d.from == a.id && d.to == c.id {
			first = append(first, d)
		} else {
			rest = append(rest, d)
		}
	}
	require.Len(t, first, 1)
	net.pending = append(first, rest...)
	net.drain()

	for _, n := range []*testNode{a, b, c} {
		holder, ok := n.locks.Holder("s1")
		require.True(t, ok, "node %s", n.id)
		assert.Equal(t, b.id, holder, "node %s", n.id)
	}
	assert.False(t, b.locks.IsPending("s1"))
	assert.Equal(t, []domain.ObjectID{"s1"}, a.renderer.deselected)

	_, err = c.engine.UpdateObject("s1", map[string]json.RawMessage{"color": json.RawMessage(`"#fff"`)})
	assert.ErrorIs(t, err, domain.ErrLockDenied)
	_, err = b.engine.UpdateObject("s1", map[string]json.RawMessage{"color": json.RawMessage(`"#fff"`)})
	require.NoError(t, err)

	require.True(t, b.engine.ReleaseLock("s1"))
	net.drain()
	for _, n := range []*testNode{a, b, c} {
		_, held := n.locks.Holder("s1")
		assert.False(t, held, "node %s", n.id)
	}
	require.True(t, c.engine.AcquireLock("s1"))
}

func TestEngine_LateRequestDoesNotReviveWithdrawnClaim(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b", "user-c")
	net.meshAll()
	a, b, c := net.node("user-a"), net.node("user-b"), net.node("user-c")

	require.True(t, b.engine.AcquireLock("s1"))
	net.clock.Advance(time.Millisecond)
	require.True(t, a.engine.AcquireLock("s1"))

	// Hold back a's request to c until the lock has come and gone.
	var late []delivery
	var rest []delivery
	for _, d := range net.take() {
		if d.from == a.id && d.to == c.id {
			late = append(late, d)
		} else {
			rest = append(rest, d)
		}
	}
	require.Len(t, late, 1)
	net.pending = rest
	net.drain()

	require.True(t, b.engine.ReleaseLock("s1"))
	net.drain()

	net.pending = late
	net.drain()

	for _, n := range []*testNode{a, b, c} {
		_, held := n.locks.Holder("s1")
		assert.False(t, held, "node %s", n.id)
	}
}

func TestEngine_LockBlocksRemoteHolderEdits(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	net.link("user-a", "user-b")
	a, b := net.node("user-a"), net.node("user-b")

	_, err := a.engine.AddObject(shape("o1"))
	require.NoError(t, err)
	require.True(t, a.engine.AcquireLock("o1"))
	net.drain()

	assert.False(t, a.locks.IsPending("o1"))
	assert.False(t, b.engine.AcquireLock("o1"))

	_, err = b.engine.UpdateObject("o1", map[string]json.RawMessage{"color": json.RawMessage(`"#fff"`)})
	assert.ErrorIs(t, err, domain.ErrLockDenied)
	assert.ErrorIs(t, b.engine.DeleteObject("o1"), domain.ErrLockDenied)

	require.True(t, a.engine.ReleaseLock("o1"))
	net.drain()
	_, held := b.locks.Holder("o1")
	assert.False(t, held)
	require.NoError(t, b.engine.DeleteObject("o1"))
}

func TestEngine_CursorThrottle(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	net.link("user-a", "user-b")
	a, b := net.node("user-a"), net.node("user-b")

	assert.True(t, a.engine.MoveCursor(10, 10))
	net.clock.Advance(10 * time.Millisecond)
	assert.False(t, a.engine.MoveCursor(20, 20))
	net.clock.Advance(60 * time.Millisecond)
	assert.True(t, a.engine.MoveCursor(30, 30))
	net.drain()

	p, ok := b.registry.Get(a.id)
	require.True(t, ok)
	assert.Equal(t, domain.Cursor{X: 30, Y: 30, Visible: true}, p.Cursor)
	assert.Equal(t, domain.Cursor{X: 30, Y: 30, Visible: true}, a.registry.Local().Cursor)
}

func TestEngine_UserInfoAndClear(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	net.link("user-a", "user-b")
	a, b := net.node("user-a"), net.node("user-b")

	local := a.engine.SetUserInfo("  Ada\n", "#ec4899")
	assert.Equal(t, "Ada", local.DisplayName)

	_, err := a.engine.AddObject(shape("o1"))
	require.NoError(t, err)
	net.drain()
	require.True(t, b.board.Contains(domain.CollectionObjects, "o1"))

	p, _ := b.registry.Get(a.id)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, "#ec4899", p.Color)

	b.engine.Clear()
	net.drain()
	assert.Empty(t, a.board.List(domain.CollectionObjects))
	assert.Equal(t, 1, a.persister.clears)
}

func TestEngine_DropsMalformedAndUnknownMessages(t *testing.T) {
	net := newTestNet(t, "user-a")
	a := net.node("user-a")

	assert.NotPanics(t, func() {
		a.engine.HandleMessage("user-b", []byte("{not json"))
		a.engine.HandleMessage("user-b", []byte(`{"type":"teleport","senderId":"user-b","timestamp":1}`))
		a.engine.HandleMessage("user-b", []byte(`{"type":"operation","op":"add"}`))
		a.engine.HandleMessage("user-b", []byte(`{"type":"operation","op":"add","data":{"collection":"nope","object":{"id":"x"}}}`))
		a.engine.HandleMessage("user-b", []byte(`{"type":"lock_response","objectId":"x"}`))
	})
	assert.Empty(t, a.board.List(domain.CollectionObjects))
	assert.Zero(t, a.renderer.renders)
}

func TestEngine_ApplyValidatesInput(t *testing.T) {
	net := newTestNet(t, "user-a")
	a := net.node("user-a")

	_, err := a.engine.Apply(domain.OpAdd, domain.OperationData{Collection: "nope", Object: shape("x")})
	assert.ErrorIs(t, err, domain.ErrInvalidCollection)

	_, err = a.engine.Apply(domain.OpAdd, domain.OperationData{})
	assert.ErrorIs(t, err, domain.ErrInvalidObject)

	_, err = a.engine.Apply(domain.OpUpdate, domain.OperationData{ObjectID: "missing"})
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)

	_, err = a.engine.Apply(domain.OpAppendStream, domain.OperationData{ObjectID: "s1"})
	assert.ErrorIs(t, err, domain.ErrInvalidObject)

	_, err = a.engine.Apply("teleport", domain.OperationData{})
	assert.Error(t, err)

	obj, err := a.engine.Apply(domain.OpAdd, domain.OperationData{
		Collection: domain.CollectionStickies,
		Object:     &domain.Object{Type: "sticky"},
	})
	require.NoError(t, err)
	assert.True(t, a.board.Contains(domain.CollectionStickies, obj.ID))
}

func TestEngine_Restore(t *testing.T) {
	net := newTestNet(t, "user-a", "user-b")
	net.link("user-a", "user-b")
	a := net.node("user-a")

	n := a.engine.Restore(domain.CollectionObjects, []*domain.Object{shape("o1"), shape("o2"), shape("o1")})
	assert.Equal(t, 2, n)
	assert.Empty(t, net.take(), "restored objects are not broadcast")
	assert.Empty(t, a.persister.saved)
}
