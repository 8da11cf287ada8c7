package webrtc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
	"peerboard/internal/core/services"
	"peerboard/pkg/tracing"
	"peerboard/pkg/utils"

	"go.uber.org/zap"
)

// ConnectionState is the lifecycle of one connection table entry.
type ConnectionState string

const (
	StateNegotiating ConnectionState = "negotiating"
	StateOpen        ConnectionState = "open"
	StateClosed      ConnectionState = "closed"
)

// Poster queues work on the event loop.
type Poster interface {
	Post(fn func()) bool
}

type ManagerConfig struct {
	RoomID        domain.RoomID
	GatherTimeout time.Duration
}

// ConnectionInfo is a read-only view of a connection table entry.
type ConnectionInfo struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	State         ConnectionState      `json:"state"`
	Initiator     bool                 `json:"initiator"`
	CreatedAt     time.Time            `json:"createdAt"`
}

type connection struct {
	id         domain.ParticipantID
	session    Session
	state      ConnectionState
	initiator  bool
	registered bool
	createdAt  time.Time
}

// ConnectionManager owns one session per remote participant and turns
// session events into registry updates and listener calls.
type ConnectionManager struct {
	cfg      ManagerConfig
	factory  SessionFactory
	registry *services.PeerRegistry
	locks    *services.LockTable
	poster   Poster
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
	listener ports.PeerListener

	mu          sync.RWMutex
	connections map[domain.ParticipantID]*connection
}

func NewConnectionManager(
	cfg ManagerConfig,
	factory SessionFactory,
	registry *services.PeerRegistry,
	locks *services.LockTable,
	poster Poster,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ConnectionManager {
	return &ConnectionManager{
		cfg:         cfg,
		factory:     factory,
		registry:    registry,
		locks:       locks,
		poster:      poster,
		metrics:     metrics,
		logger:      logger,
		listener:    nopListener{},
		connections: make(map[domain.ParticipantID]*connection),
	}
}

// SetListener must be called before any connection is created.
func (m *ConnectionManager) SetListener(l ports.PeerListener) {
	m.listener = l
}

// InitiateConnection creates an offer for a participant that is not known
// yet. The pending connection is keyed by a temporary id until the answer
// arrives.
func (m *ConnectionManager) InitiateConnection(ctx context.Context) (domain.SignalPayload, error) {
	start := time.Now()
	tempID := domain.ParticipantID(utils.GenerateTemporaryID())

	ctx, span := tracing.TraceNegotiation(ctx, "offer", string(tempID), string(m.cfg.RoomID))
	defer span.End()

	conn := m.newConnection(tempID, true)
	session, err := m.factory.NewSession(m.events(conn))
	if err != nil {
		return domain.SignalPayload{}, m.negotiationFailed(ctx, "offer", start, err)
	}
	conn.session = session

	m.mu.Lock()
	m.connections[tempID] = conn
	m.mu.Unlock()

	local := m.registry.Local()
	m.registry.SetRole(local.ID, domain.RoleHost)

	gatherCtx, cancel := m.gatherContext(ctx)
	defer cancel()
	desc, err := session.CreateOffer(gatherCtx)
	if err != nil {
		m.teardown(conn, "offer failed")
		return domain.SignalPayload{}, m.negotiationFailed(ctx, "offer", start, err)
	}

	m.metrics.NegotiationObserved("offer", time.Since(start), nil)
	m.logger.Infow("created offer", "pending_id", tempID, "room_id", m.cfg.RoomID)

	return domain.SignalPayload{
		Kind:               domain.SignalOffer,
		ParticipantID:      local.ID,
		TargetID:           tempID,
		DisplayName:        local.DisplayName,
		Color:              local.Color,
		RoomID:             m.cfg.RoomID,
		SessionDescription: desc,
		Timestamp:          utils.UnixMillis(time.Now()),
	}, nil
}

// AcceptOffer answers an offer from a host. The host is registered with
// status connecting until the channel opens.
func (m *ConnectionManager) AcceptOffer(ctx context.Context, offer domain.SignalPayload) (domain.SignalPayload, error) {
	if offer.Kind != domain.SignalOffer {
		return domain.SignalPayload{}, fmt.Errorf("accept offer: %w: got %q", domain.ErrUnexpectedSignalKind, offer.Kind)
	}
	local := m.registry.Local()
	hostID := offer.ParticipantID
	if hostID == local.ID {
		return domain.SignalPayload{}, domain.ErrSelfConnection
	}
	if offer.RoomID != "" && offer.RoomID != m.cfg.RoomID {
		m.logger.Warnw("offer is for a different room", "peer_id", hostID, "offer_room_id", offer.RoomID, "room_id", m.cfg.RoomID)
	}

	start := time.Now()
	ctx, span := tracing.TraceNegotiation(ctx, "answer", string(hostID), string(m.cfg.RoomID))
	defer span.End()

	conn := m.newConnection(hostID, false)
	session, err := m.factory.NewSession(m.events(conn))
	if err != nil {
		return domain.SignalPayload{}, m.negotiationFailed(ctx, "answer", start, err)
	}
	conn.session = session

	m.mu.Lock()
	old := m.connections[hostID]
	m.connections[hostID] = conn
	m.mu.Unlock()
	// replaced is set when the host's registry entry belonged to old; it must
	// go if this negotiation does not take it over.
	replaced := old != nil && m.retire(old)

	gatherCtx, cancel := m.gatherContext(ctx)
	defer cancel()
	desc, err := session.CreateAnswer(gatherCtx, offer.SessionDescription)
	if err != nil {
		m.teardown(conn, "answer failed")
		if replaced {
			m.forget(hostID, "answer failed")
		}
		return domain.SignalPayload{}, m.negotiationFailed(ctx, "answer", start, err)
	}

	m.mu.Lock()
	if conn.state == StateClosed {
		m.mu.Unlock()
		if replaced {
			m.forget(hostID, "channel closed")
		}
		return domain.SignalPayload{}, m.negotiationFailed(ctx, "answer", start, domain.ErrChannelUnavailable)
	}
	m.register(conn, offer.DisplayName, offer.Color, domain.RoleHost)
	m.mu.Unlock()

	m.metrics.NegotiationObserved("answer", time.Since(start), nil)
	m.logger.Infow("answered offer", "peer_id", hostID, "room_id", m.cfg.RoomID)

	return domain.SignalPayload{
		Kind:               domain.SignalAnswer,
		ParticipantID:      local.ID,
		TargetID:           offer.TargetID,
		DisplayName:        local.DisplayName,
		Color:              local.Color,
		RoomID:             m.cfg.RoomID,
		SessionDescription: desc,
		Timestamp:          utils.UnixMillis(time.Now()),
	}, nil
}

// AcceptAnswer completes a connection started by InitiateConnection. The
// pending entry is re-keyed to the guest id before the answer is applied,
// so the channel can never open under the temporary id.
func (m *ConnectionManager) AcceptAnswer(ctx context.Context, answer domain.SignalPayload) error {
	if answer.Kind != domain.SignalAnswer {
		return fmt.Errorf("accept answer: %w: got %q", domain.ErrUnexpectedSignalKind, answer.Kind)
	}
	guestID := answer.ParticipantID
	if guestID == m.registry.LocalID() {
		return domain.ErrSelfConnection
	}

	start := time.Now()
	ctx, span := tracing.TraceNegotiation(ctx, "complete", string(guestID), string(m.cfg.RoomID))
	defer span.End()

	m.mu.Lock()
	conn := m.connections[answer.TargetID]
	if conn == nil || !conn.initiator || conn.registered || conn.state == StateClosed {
		m.mu.Unlock()
		return fmt.Errorf("%w: no pending offer %s", domain.ErrConnectionNotFound, answer.TargetID)
	}
	delete(m.connections, answer.TargetID)
	old := m.connections[guestID]
	conn.id = guestID
	m.connections[guestID] = conn
	m.register(conn, answer.DisplayName, answer.Color, domain.RoleGuest)
	m.mu.Unlock()

	if old != nil {
		m.retire(old)
	}

	if err := conn.session.SetAnswer(answer.SessionDescription); err != nil {
		m.teardown(conn, "answer rejected")
		return m.negotiationFailed(ctx, "complete", start, err)
	}

	m.metrics.NegotiationObserved("complete", time.Since(start), nil)
	m.logger.Infow("accepted answer", "peer_id", guestID, "pending_id", answer.TargetID)
	return nil
}

// register adds the remote participant to the registry. Callers hold m.mu.
func (m *ConnectionManager) register(conn *connection, name, color string, role domain.Role) {
	if !m.registry.Add(conn.id, utils.SanitizeDisplayName(name), color, role) {
		m.registry.SetStatus(conn.id, domain.StatusConnecting)
	}
	conn.registered = true
}

func (m *ConnectionManager) Send(id domain.ParticipantID, data []byte) bool {
	m.mu.RLock()
	conn := m.connections[id]
	open := conn != nil && conn.state == StateOpen
	m.mu.RUnlock()
	if !open {
		return false
	}

	if err := conn.session.Send(data); err != nil {
		m.logger.Debugw("send failed", "peer_id", id, "error", err)
		return false
	}
	return true
}

// Broadcast sends data to every open connection and returns the number of
// successful deliveries.
func (m *ConnectionManager) Broadcast(data []byte) int {
	sent := 0
	for _, id := range m.OpenPeers() {
		if m.Send(id, data) {
			sent++
		}
	}
	return sent
}

func (m *ConnectionManager) OpenPeers() []domain.ParticipantID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]domain.ParticipantID, 0, len(m.connections))
	for id, conn := range m.connections {
		if conn.state == StateOpen {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *ConnectionManager) OpenCount() int {
	return len(m.OpenPeers())
}

// Connections lists every table entry, pending offers included.
func (m *ConnectionManager) Connections() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(m.connections))
	for id, conn := range m.connections {
		out = append(out, ConnectionInfo{
			ParticipantID: id,
			State:         conn.state,
			Initiator:     conn.initiator,
			CreatedAt:     conn.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

func (m *ConnectionManager) Disconnect(id domain.ParticipantID) error {
	m.mu.RLock()
	conn := m.connections[id]
	m.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	m.teardown(conn, "local disconnect")
	return nil
}

// Close tears down every connection.
func (m *ConnectionManager) Close() {
	m.mu.RLock()
	conns := make([]*connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		m.teardown(conn, "shutdown")
	}
}

func (m *ConnectionManager) newConnection(id domain.ParticipantID, initiator bool) *connection {
	return &connection{
		id:        id,
		state:     StateNegotiating,
		initiator: initiator,
		createdAt: time.Now(),
	}
}

func (m *ConnectionManager) events(conn *connection) SessionEvents {
	return SessionEvents{
		OnOpen:    func() { m.handleOpen(conn) },
		OnClose:   func() { m.teardown(conn, "channel closed") },
		OnMessage: func(data []byte) { m.handleMessage(conn, data) },
		OnFailed:  func(err error) { m.handleFailure(conn, err) },
	}
}

func (m *ConnectionManager) handleFailure(conn *connection, err error) {
	m.logger.Warnw("connection failed", "peer_id", m.idOf(conn), "error", err)
	m.teardown(conn, "connection failed")
}

func (m *ConnectionManager) idOf(conn *connection) domain.ParticipantID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return conn.id
}

func (m *ConnectionManager) handleOpen(conn *connection) {
	m.mu.Lock()
	if conn.state != StateNegotiating || !conn.registered || m.connections[conn.id] != conn {
		m.mu.Unlock()
		return
	}
	conn.state = StateOpen
	id := conn.id
	m.mu.Unlock()

	m.logger.Infow("channel open", "peer_id", id)
	m.poster.Post(func() {
		m.registry.SetStatus(id, domain.StatusConnected)
		m.listener.PeerConnected(id)
	})
}

func (m *ConnectionManager) handleMessage(conn *connection, data []byte) {
	m.mu.RLock()
	open := conn.state == StateOpen
	id := conn.id
	m.mu.RUnlock()
	if !open {
		return
	}

	msg := append([]byte(nil), data...)
	m.poster.Post(func() { m.listener.HandleMessage(id, msg) })
}

// teardown closes conn and, if it still owns its table entry, removes the
// participant and every lock it held. Repeated calls are no-ops.
func (m *ConnectionManager) teardown(conn *connection, reason string) {
	m.mu.Lock()
	if conn.state == StateClosed {
		m.mu.Unlock()
		return
	}
	conn.state = StateClosed
	id := conn.id
	owned := m.connections[id] == conn
	if owned {
		delete(m.connections, id)
	}
	registered := conn.registered
	m.mu.Unlock()

	if conn.session != nil {
		if err := conn.session.Close(); err != nil {
			m.logger.Debugw("session close failed", "peer_id", id, "error", err)
		}
	}

	if owned && registered {
		m.forget(id, reason)
	}
}

// forget removes id from the registry and frees its locks in one event
// loop step. The registry entry stays if a newer registered connection has
// taken the id over in the meantime.
func (m *ConnectionManager) forget(id domain.ParticipantID, reason string) {
	m.poster.Post(func() {
		m.mu.RLock()
		current := m.connections[id]
		takenOver := current != nil && current.registered
		m.mu.RUnlock()

		if !takenOver {
			m.registry.SetStatus(id, domain.StatusDisconnected)
			m.registry.Remove(id)
		}
		released := m.locks.ReleaseAll(id)
		m.locks.ForgetPeer(id)

		m.logger.Infow("connection closed", "peer_id", id, "reason", reason, "released_locks", len(released))
		m.listener.PeerDisconnected(id, released)
	})
}

// retire closes a connection that a newer one for the same participant has
// replaced and frees its locks. It reports whether old was registered; the
// registry entry is left for the new connection.
func (m *ConnectionManager) retire(old *connection) bool {
	m.mu.Lock()
	if old.state == StateClosed {
		m.mu.Unlock()
		return false
	}
	old.state = StateClosed
	id := old.id
	registered := old.registered
	m.mu.Unlock()

	if old.session != nil {
		_ = old.session.Close()
	}
	if !registered {
		return false
	}

	m.poster.Post(func() {
		released := m.locks.ReleaseAll(id)
		m.locks.ForgetPeer(id)
		m.logger.Infow("connection replaced", "peer_id", id, "released_locks", len(released))
		m.listener.PeerDisconnected(id, released)
	})
	return true
}

func (m *ConnectionManager) gatherContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.GatherTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.GatherTimeout)
}

func (m *ConnectionManager) negotiationFailed(ctx context.Context, step string, start time.Time, err error) error {
	tracing.RecordError(ctx, err)
	m.metrics.NegotiationObserved(step, time.Since(start), err)
	m.logger.Warnw("negotiation failed", "step", step, "error", err)
	return fmt.Errorf("%w: %s: %v", domain.ErrNegotiationFailed, step, err)
}

type nopListener struct{}

func (nopListener) PeerConnected(domain.ParticipantID) {}
func (nopListener) PeerDisconnected(domain.ParticipantID, []domain.ObjectID) {}
func (nopListener) HandleMessage(domain.ParticipantID, []byte) {}
