package services

import (
	"context"
	"sort"
	"testing"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockBoardRepository struct {
	mock.Mock
}

func (m *MockBoardRepository) SaveRoom(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *MockBoardRepository) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *MockBoardRepository) SaveObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, objs []*domain.Object) error {
	args := m.Called(ctx, room, coll, objs)
	return args.Error(0)
}

func (m *MockBoardRepository) DeleteObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, ids []domain.ObjectID) error {
	args := m.Called(ctx, room, coll, ids)
	return args.Error(0)
}

func (m *MockBoardRepository) ListObjects(ctx context.Context, room domain.RoomID, coll domain.Collection) ([]*domain.Object, error) {
	args := m.Called(ctx, room, coll)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Object), args.Error(1)
}

func (m *MockBoardRepository) ClearRoom(ctx context.Context, room domain.RoomID) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *MockBoardRepository) Close() error {
	return m.Called().Error(0)
}

type recordingRenderer struct {
	renders    int
	deselected []domain.ObjectID
}

func (r *recordingRenderer) Render() { r.renders++ }

func (r *recordingRenderer) Deselect(id domain.ObjectID) {
	r.deselected = append(r.deselected, id)
}

type recordingPersister struct {
	saved   map[domain.Collection][]domain.ObjectID
	deleted map[domain.Collection][]domain.ObjectID
	clears  int
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{
		saved:   make(map[domain.Collection][]domain.ObjectID),
		deleted: make(map[domain.Collection][]domain.ObjectID),
	}
}

func (p *recordingPersister) SaveObjects(coll domain.Collection, objs ...*domain.Object) {
	for _, obj := range objs {
		p.saved[coll] = append(p.saved[coll], obj.ID)
	}
}

func (p *recordingPersister) DeleteObjects(coll domain.Collection, ids ...domain.ObjectID) {
	p.deleted[coll] = append(p.deleted[coll], ids...)
}

func (p *recordingPersister) ClearRoom() { p.clears++ }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// delivery is one message in flight between two test nodes.
type delivery struct {
	from, to domain.ParticipantID
	data     []byte
}

type testNode struct {
	id        domain.ParticipantID
	registry  *PeerRegistry
	locks     *LockTable
	board     *BoardState
	engine    *ReplicationEngine
	renderer  *recordingRenderer
	persister *recordingPersister
}

// testNet connects engines through an in-memory FIFO instead of data channels.
type testNet struct {
	t       *testing.T
	clock   *fakeClock
	nodes   map[domain.ParticipantID]*testNode
	links   map[domain.ParticipantID]map[domain.ParticipantID]bool
	pending []delivery
}

func newTestNet(t *testing.T, ids ...domain.ParticipantID) *testNet {
	n := &testNet{
		t:     t,
		clock: &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		nodes: make(map[domain.ParticipantID]*testNode),
		links: make(map[domain.ParticipantID]map[domain.ParticipantID]bool),
	}
	for _, id := range ids {
		n.addNode(id)
	}
	return n
}

func (n *testNet) addNode(id domain.ParticipantID) *testNode {
	registry := NewPeerRegistry(domain.Participant{ID: id, DisplayName: "name-" + string(id), Color: "#10b981"})
	locks := NewLockTable(id, registry)
	board := NewBoardState()
	renderer := &recordingRenderer{}
	persister := newRecordingPersister()
	engine := NewReplicationEngine(EngineConfig{
		RoomID:               "calm-board-1",
		CursorInterval:       50 * time.Millisecond,
		StreamAppendInterval: 20 * time.Millisecond,
	}, registry, locks, board, persister, renderer, ports.NopMetrics{}, zap.NewNop().Sugar())
	engine.now = n.clock.Now
	engine.SetTransport(&netTransport{net: n, self: id})

	node := &testNode{
		id:        id,
		registry:  registry,
		locks:     locks,
		board:     board,
		engine:    engine,
		renderer:  renderer,
		persister: persister,
	}
	n.nodes[id] = node
	n.links[id] = make(map[domain.ParticipantID]bool)
	return node
}

func (n *testNet) node(id domain.ParticipantID) *testNode {
	node, ok := n.nodes[id]
	if !ok {
		n.t.Fatalf("unknown node %s", id)
	}
	return node
}

// link makes a and b known to each other and opens the channel between them.
func (n *testNet) link(a, b domain.ParticipantID) {
	na, nb := n.node(a), n.node(b)
	na.registry.Add(b, "name-"+string(b), "#3b82f6", domain.RoleGuest)
	na.registry.SetStatus(b, domain.StatusConnected)
	nb.registry.Add(a, "name-"+string(a), "#3b82f6", domain.RoleHost)
	nb.registry.SetStatus(a, domain.StatusConnected)
	n.links[a][b] = true
	n.links[b][a] = true
}

func (n *testNet) meshAll() {
	ids := n.ids()
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			n.link(ids[i], ids[j])
		}
	}
}

func (n *testNet) ids() []domain.ParticipantID {
	ids := make([]domain.ParticipantID, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// take removes and returns everything in flight.
func (n *testNet) take() []delivery {
	out := n.pending
	n.pending = nil
	return out
}

func (n *testNet) deliver(d delivery) {
	n.node(d.to).engine.HandleMessage(d.from, d.data)
}

// drain delivers messages in FIFO order until the network is quiet.
func (n *testNet) drain() {
	for i := 0; len(n.pending) > 0; i++ {
		if i > 10000 {
			n.t.Fatal("network did not quiesce")
		}
		d := n.pending[0]
		n.pending = n.pending[1:]
		n.deliver(d)
	}
}

type netTransport struct {
	net  *testNet
	self domain.ParticipantID
}

func (t *netTransport) Send(to domain.ParticipantID, data []byte) bool {
	if !t.net.links[t.self][to] {
		return false
	}
	t.net.pending = append(t.net.pending, delivery{from: t.self, to: to, data: append([]byte(nil), data...)})
	return true
}

func (t *netTransport) Broadcast(data []byte) int {
	sent := 0
	for _, id := range t.OpenPeers() {
		if t.Send(id, data) {
			sent++
		}
	}
	return sent
}

func (t *netTransport) OpenPeers() []domain.ParticipantID {
	var out []domain.ParticipantID
	for id, open := range t.net.links[t.self] {
		if open {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func objectIDs(objs []*domain.Object) []domain.ObjectID {
	out := make([]domain.ObjectID, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.ID)
	}
	return out
}

func shape(id domain.ObjectID, pts ...domain.Point) *domain.Object {
	return &domain.Object{ID: id, Type: "rectangle", Points: pts}
}
