package services

import (
	"encoding/json"
	"fmt"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
	"peerboard/pkg/throttle"
	"peerboard/pkg/utils"

	"go.uber.org/zap"
)

type EngineConfig struct {
	RoomID               domain.RoomID
	CursorInterval       time.Duration
	StreamAppendInterval time.Duration
}

// ReplicationEngine applies local and remote board operations and keeps
// peers informed. All methods are expected to run on the event loop.
type ReplicationEngine struct {
	cfg       EngineConfig
	registry  *PeerRegistry
	locks     *LockTable
	board     *BoardState
	persister Persister
	renderer  ports.Renderer
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
	transport ports.Transport

	cursorLimiter   *throttle.Limiter
	appendLimiter   *throttle.Keyed
	lastLockRequest int64
	now             func() time.Time
}

func NewReplicationEngine(
	cfg EngineConfig,
	registry *PeerRegistry,
	locks *LockTable,
	board *BoardState,
	persister Persister,
	renderer ports.Renderer,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ReplicationEngine {
	return &ReplicationEngine{
		cfg:           cfg,
		registry:      registry,
		locks:         locks,
		board:         board,
		persister:     persister,
		renderer:      renderer,
		metrics:       metrics,
		logger:        logger,
		transport:     noTransport{},
		cursorLimiter: throttle.New(cfg.CursorInterval),
		appendLimiter: throttle.NewKeyed(cfg.StreamAppendInterval),
		now:           time.Now,
	}
}

// SetTransport attaches the connection layer used for outbound messages.
func (e *ReplicationEngine) SetTransport(t ports.Transport) {
	e.transport = t
}

// Restore loads persisted objects without replicating them.
func (e *ReplicationEngine) Restore(coll domain.Collection, objs []*domain.Object) int {
	restored := 0
	for _, obj := range objs {
		if e.board.Insert(coll, obj) {
			restored++
		}
	}
	if restored > 0 {
		e.renderer.Render()
	}
	return restored
}

// Apply runs a locally authored operation.
func (e *ReplicationEngine) Apply(kind domain.OperationKind, data domain.OperationData) (*domain.Object, error) {
	coll := data.Collection.OrDefault()
	if !coll.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCollection, data.Collection)
	}

	switch kind {
	case domain.OpAdd:
		return e.add(coll, data.Object)
	case domain.OpUpdate:
		return e.update(coll, data.Target(), data.Updates)
	case domain.OpDelete:
		return nil, e.remove(coll, data.Target())
	case domain.OpStartStream:
		return e.StartStream(data.Object)
	case domain.OpAppendStream:
		if data.Point == nil {
			return nil, fmt.Errorf("%w: append without point", domain.ErrInvalidObject)
		}
		_, err := e.AppendStream(data.Target(), *data.Point)
		return nil, err
	case domain.OpFinishStream:
		return e.FinishStream(data.Target())
	case domain.OpClear:
		e.Clear()
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidObject, kind)
}

func (e *ReplicationEngine) AddObject(obj *domain.Object) (*domain.Object, error) {
	return e.add(domain.CollectionObjects, obj)
}

func (e *ReplicationEngine) AddSticky(obj *domain.Object) (*domain.Object, error) {
	return e.add(domain.CollectionStickies, obj)
}

func (e *ReplicationEngine) UpdateObject(id domain.ObjectID, updates map[string]json.RawMessage) (*domain.Object, error) {
	return e.update(domain.CollectionObjects, id, updates)
}

func (e *ReplicationEngine) UpdateSticky(id domain.ObjectID, updates map[string]json.RawMessage) (*domain.Object, error) {
	return e.update(domain.CollectionStickies, id, updates)
}

func (e *ReplicationEngine) DeleteObject(id domain.ObjectID) error {
	return e.remove(domain.CollectionObjects, id)
}

func (e *ReplicationEngine) DeleteSticky(id domain.ObjectID) error {
	return e.remove(domain.CollectionStickies, id)
}

func (e *ReplicationEngine) add(coll domain.Collection, obj *domain.Object) (*domain.Object, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: missing object", domain.ErrInvalidObject)
	}
	obj = e.prepare(obj)
	if !e.board.Insert(coll, obj) {
		return nil, fmt.Errorf("%w: %s already exists or was deleted", domain.ErrInvalidObject, obj.ID)
	}

	e.persister.SaveObjects(coll, obj)
	e.broadcastOperation(domain.OpAdd, &domain.OperationData{
		Collection: wireCollection(coll),
		Object:     obj,
	})
	e.renderer.Render()
	return obj, nil
}

func (e *ReplicationEngine) update(coll domain.Collection, id domain.ObjectID, updates map[string]json.RawMessage) (*domain.Object, error) {
	if err := e.checkLock(id); err != nil {
		return nil, err
	}
	obj, ok, err := e.board.Update(coll, id, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, id)
	}

	e.persister.SaveObjects(coll, obj)
	e.broadcastOperation(domain.OpUpdate, &domain.OperationData{
		Collection: wireCollection(coll),
		ObjectID:   id,
		Updates:    updates,
	})
	e.renderer.Render()
	return obj, nil
}

func (e *ReplicationEngine) remove(coll domain.Collection, id domain.ObjectID) error {
	if err := e.checkLock(id); err != nil {
		return err
	}
	if !e.board.Remove(coll, id) {
		return fmt.Errorf("%w: %s", domain.ErrObjectNotFound, id)
	}

	e.persister.DeleteObjects(coll, id)
	e.broadcastOperation(domain.OpDelete, &domain.OperationData{
		Collection: wireCollection(coll),
		ObjectID:   id,
	})
	e.ReleaseLock(id)
	e.renderer.Render()
	return nil
}

// StartStream stages a new in-progress stroke and announces it.
func (e *ReplicationEngine) StartStream(obj *domain.Object) (*domain.Object, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: missing object", domain.ErrInvalidObject)
	}
	obj = e.prepare(obj)
	if !e.board.Stage(obj) {
		return nil, fmt.Errorf("%w: %s already exists or was deleted", domain.ErrInvalidObject, obj.ID)
	}

	e.broadcastOperation(domain.OpStartStream, &domain.OperationData{Object: obj})
	e.renderer.Render()
	return obj, nil
}

// AppendStream records a point locally and reports whether it was sent.
// Throttled points reach peers with the finish message.
func (e *ReplicationEngine) AppendStream(id domain.ObjectID, pt domain.Point) (bool, error) {
	if !e.board.AppendPoint(id, pt) {
		return false, fmt.Errorf("%w: no stream %s", domain.ErrObjectNotFound, id)
	}
	e.renderer.Render()

	if !e.appendLimiter.AllowAt(string(id), e.now()) {
		return false, nil
	}
	e.broadcastOperation(domain.OpAppendStream, &domain.OperationData{
		ObjectID: id,
		Point:    &pt,
	})
	return true, nil
}

// FinishStream commits a staged stroke and sends its full shape.
func (e *ReplicationEngine) FinishStream(id domain.ObjectID) (*domain.Object, error) {
	obj, ok := e.board.Unstage(id)
	if !ok {
		return nil, fmt.Errorf("%w: no stream %s", domain.ErrObjectNotFound, id)
	}
	e.appendLimiter.Forget(string(id))

	if e.board.Insert(domain.CollectionObjects, obj) {
		e.persister.SaveObjects(domain.CollectionObjects, obj)
	}
	e.broadcastOperation(domain.OpFinishStream, &domain.OperationData{
		ObjectID: id,
		Object:   obj,
	})
	e.renderer.Render()
	return obj, nil
}

// Clear empties the board for everyone.
func (e *ReplicationEngine) Clear() {
	e.board.Clear()
	e.persister.ClearRoom()
	e.broadcastOperation(domain.OpClear, nil)
	e.renderer.Render()
}

// MoveCursor updates the local cursor and reports whether it was sent.
func (e *ReplicationEngine) MoveCursor(x, y float64) bool {
	e.registry.UpdateCursor(e.registry.LocalID(), x, y, true)
	if !e.cursorLimiter.AllowAt(e.now()) {
		return false
	}
	e.broadcast(domain.Message{Type: domain.MessageCursorMove, X: x, Y: y})
	return true
}

func (e *ReplicationEngine) SetUserInfo(name, color string) domain.Participant {
	name = utils.SanitizeDisplayName(name)
	e.registry.UpdateInfo(e.registry.LocalID(), name, color)
	local := e.registry.Local()
	e.broadcast(domain.Message{
		Type:  domain.MessageUserInfo,
		Name:  local.DisplayName,
		Color: local.Color,
	})
	e.renderer.Render()
	return local
}

// AcquireLock grants the lock optimistically and asks every open peer to
// confirm it.
func (e *ReplicationEngine) AcquireLock(id domain.ObjectID) bool {
	localID := e.registry.LocalID()
	if holder, ok := e.locks.Holder(id); ok && holder == localID {
		return true
	}

	peers := e.transport.OpenPeers()
	requestedAt := e.now().UnixMilli()
	if requestedAt <= e.lastLockRequest {
		requestedAt = e.lastLockRequest + 1
	}
	if !e.locks.AcquireLocal(id, requestedAt, peers) {
		e.metrics.LockOutcome("denied")
		return false
	}
	e.metrics.LockOutcome("granted")
	e.lastLockRequest = requestedAt

	if len(peers) > 0 {
		e.broadcast(domain.Message{
			Type:      domain.MessageLockRequest,
			Timestamp: requestedAt,
			ObjectID:  id,
		})
	}
	e.renderer.Render()
	return true
}

func (e *ReplicationEngine) ReleaseLock(id domain.ObjectID) bool {
	claim, _ := e.locks.Claim(id)
	if !e.locks.Release(id, e.registry.LocalID()) {
		return false
	}
	e.announceRelease(id, claim.RequestedAt)
	e.renderer.Render()
	return true
}

// announceRelease tells peers that the local claim made at requestedAt is
// gone, so observers that recorded it drop it too.
func (e *ReplicationEngine) announceRelease(id domain.ObjectID, requestedAt int64) {
	e.broadcast(domain.Message{
		Type:        domain.MessageLockRelease,
		ObjectID:    id,
		RequestedAt: requestedAt,
	})
}

func (e *ReplicationEngine) Objects() []*domain.Object {
	return e.board.List(domain.CollectionObjects)
}

func (e *ReplicationEngine) Stickies() []*domain.Object {
	return e.board.List(domain.CollectionStickies)
}

func (e *ReplicationEngine) Staged() []*domain.Object {
	return e.board.Staged()
}

func (e *ReplicationEngine) Participants() []domain.Participant {
	return e.registry.All()
}

func (e *ReplicationEngine) Locks() map[domain.ObjectID]domain.ParticipantID {
	return e.locks.Snapshot()
}

// PeerConnected bootstraps a newly opened peer with the full state.
func (e *ReplicationEngine) PeerConnected(id domain.ParticipantID) {
	local := e.registry.Local()
	e.send(id, domain.Message{
		Type:     domain.MessageFullSync,
		Objects:  e.board.List(domain.CollectionObjects),
		Stickies: e.board.List(domain.CollectionStickies),
		Staged:   e.board.Staged(),
	})
	e.send(id, domain.Message{
		Type:  domain.MessageUserInfo,
		Name:  local.DisplayName,
		Color: local.Color,
	})

	e.metrics.ParticipantsChanged(len(e.registry.Online()))
	e.logger.Infow("peer connected", "peer_id", id)
	e.renderer.Render()
}

func (e *ReplicationEngine) PeerDisconnected(id domain.ParticipantID, released []domain.ObjectID) {
	e.metrics.ParticipantsChanged(len(e.registry.Online()))
	e.logger.Infow("peer disconnected", "peer_id", id, "released_locks", len(released))
	e.renderer.Render()
}

// HandleMessage decodes and applies one inbound message. Malformed and
// unknown messages are dropped.
func (e *ReplicationEngine) HandleMessage(from domain.ParticipantID, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		e.logger.Warnw("dropping malformed message", "peer_id", from, "error", err)
		return
	}

	e.registry.Touch(from)
	e.metrics.MessageReceived(string(msg.Type))

	switch msg.Type {
	case domain.MessageFullSync:
		e.handleFullSync(from, &msg)
	case domain.MessageOperation:
		e.handleOperation(from, &msg)
	case domain.MessageCursorMove:
		if e.registry.UpdateCursor(from, msg.X, msg.Y, true) {
			e.renderer.Render()
		}
	case domain.MessageUserInfo:
		if e.registry.UpdateInfo(from, utils.SanitizeDisplayName(msg.Name), msg.Color) {
			e.renderer.Render()
		}
	case domain.MessageLockRequest:
		e.handleLockRequest(from, &msg)
	case domain.MessageLockRelease:
		if e.locks.HandleRemoteRelease(msg.ObjectID, from, msg.RequestedAt) {
			e.renderer.Render()
		}
	case domain.MessageLockResponse:
		e.handleLockResponse(from, &msg)
	default:
		e.logger.Debugw("dropping message",
			"peer_id", from,
			"message_type", msg.Type,
			"error", domain.ErrUnknownMessageType,
		)
	}
}

func (e *ReplicationEngine) handleFullSync(from domain.ParticipantID, msg *domain.Message) {
	res := e.board.Merge(e.localize(msg.Objects), e.localize(msg.Stickies), msg.Staged)
	if res.Empty() {
		return
	}

	e.persister.SaveObjects(domain.CollectionObjects, res.Objects...)
	e.persister.SaveObjects(domain.CollectionStickies, res.Stickies...)
	e.logger.Infow("merged full sync",
		"peer_id", from,
		"objects", len(res.Objects),
		"stickies", len(res.Stickies),
		"staged", res.Staged,
	)
	e.renderer.Render()
}

func (e *ReplicationEngine) handleOperation(from domain.ParticipantID, msg *domain.Message) {
	applied := e.applyRemote(msg.Op, msg.Data)
	e.metrics.OperationApplied(string(msg.Op), applied)
	if !applied {
		e.logger.Debugw("operation had no effect",
			"peer_id", from,
			"op", msg.Op,
			"object_id", msg.Data.Target(),
		)
		return
	}
	e.renderer.Render()
}

// applyRemote follows the replay rules: each operation is idempotent and
// an operation on a missing target is a no-op.
func (e *ReplicationEngine) applyRemote(kind domain.OperationKind, data *domain.OperationData) bool {
	if data == nil {
		data = &domain.OperationData{}
	}
	coll := data.Collection.OrDefault()
	if !coll.Valid() {
		return false
	}

	switch kind {
	case domain.OpAdd:
		if data.Object == nil {
			return false
		}
		obj := e.localizeOne(data.Object)
		if !e.board.Insert(coll, obj) {
			return false
		}
		e.persister.SaveObjects(coll, obj)
		return true

	case domain.OpUpdate:
		obj, ok, err := e.board.Update(coll, data.Target(), data.Updates)
		if err != nil {
			e.logger.Debugw("rejecting update", "object_id", data.Target(), "error", err)
			return false
		}
		if ok {
			e.persister.SaveObjects(coll, obj)
		}
		return ok

	case domain.OpDelete:
		id := data.Target()
		if !e.board.Remove(coll, id) {
			return false
		}
		e.persister.DeleteObjects(coll, id)
		return true

	case domain.OpStartStream:
		if coll != domain.CollectionObjects || data.Object == nil {
			return false
		}
		return e.board.Stage(e.localizeOne(data.Object))

	case domain.OpAppendStream:
		if data.Point == nil {
			return false
		}
		return e.board.AppendPoint(data.Target(), *data.Point)

	case domain.OpFinishStream:
		staged, wasStaged := e.board.Unstage(data.Target())
		obj := data.Object
		if obj == nil {
			obj = staged
		}
		if obj == nil {
			return wasStaged
		}
		obj = e.localizeOne(obj)
		inserted := e.board.Insert(domain.CollectionObjects, obj)
		if inserted {
			e.persister.SaveObjects(domain.CollectionObjects, obj)
		}
		return inserted || wasStaged

	case domain.OpClear:
		e.board.Clear()
		e.persister.ClearRoom()
		return true
	}
	return false
}

func (e *ReplicationEngine) handleLockRequest(from domain.ParticipantID, msg *domain.Message) {
	var lost LockClaim
	if claim, ok := e.locks.Claim(msg.ObjectID); ok && claim.Holder == e.registry.LocalID() {
		lost = claim
	}

	granted, revoked := e.locks.HandleRemoteRequest(msg.ObjectID, from, msg.Timestamp)
	if revoked {
		e.metrics.LockOutcome("revoked")
		e.renderer.Deselect(msg.ObjectID)
		e.announceRelease(msg.ObjectID, lost.RequestedAt)
		e.logger.Infow("lock lost to concurrent request", "object_id", msg.ObjectID, "peer_id", from)
	}

	resp := domain.Message{
		Type:        domain.MessageLockResponse,
		ObjectID:    msg.ObjectID,
		Granted:     &granted,
		RequestedAt: msg.Timestamp,
	}
	if !granted {
		if holder, ok := e.locks.Claim(msg.ObjectID); ok {
			resp.HolderID = holder.Holder
			resp.HolderRequestedAt = holder.RequestedAt
		}
	}
	e.send(from, resp)
	e.renderer.Render()
}

func (e *ReplicationEngine) handleLockResponse(from domain.ParticipantID, msg *domain.Message) {
	if msg.Granted == nil {
		return
	}
	if *msg.Granted {
		if e.locks.Confirm(msg.ObjectID, from, msg.RequestedAt) {
			e.metrics.LockOutcome("confirmed")
		}
		return
	}

	holder := LockClaim{Holder: msg.HolderID, RequestedAt: msg.HolderRequestedAt}
	if lost, ok := e.locks.Deny(msg.ObjectID, from, msg.RequestedAt, holder); ok {
		e.metrics.LockOutcome("revoked")
		e.renderer.Deselect(msg.ObjectID)
		e.announceRelease(msg.ObjectID, lost.RequestedAt)
		e.logger.Infow("lock denied by peer", "object_id", msg.ObjectID, "peer_id", from, "holder_id", msg.HolderID)
		e.renderer.Render()
	}
}

func (e *ReplicationEngine) checkLock(id domain.ObjectID) error {
	if e.locks.IsLocked(id, e.registry.LocalID()) {
		holder, _ := e.locks.Holder(id)
		return fmt.Errorf("%w: %s is held by %s", domain.ErrLockDenied, id, holder)
	}
	return nil
}

// prepare copies a locally authored object, assigning an id and the room.
func (e *ReplicationEngine) prepare(obj *domain.Object) *domain.Object {
	obj = obj.Clone()
	if obj.ID == "" {
		prefix := obj.Type
		if prefix == "" {
			prefix = "object"
		}
		obj.ID = domain.ObjectID(utils.GenerateObjectID(prefix))
	}
	obj.RoomID = e.cfg.RoomID
	return obj
}

func (e *ReplicationEngine) localizeOne(obj *domain.Object) *domain.Object {
	obj = obj.Clone()
	obj.RoomID = e.cfg.RoomID
	return obj
}

func (e *ReplicationEngine) localize(objs []*domain.Object) []*domain.Object {
	out := make([]*domain.Object, 0, len(objs))
	for _, obj := range objs {
		if obj != nil {
			out = append(out, e.localizeOne(obj))
		}
	}
	return out
}

func (e *ReplicationEngine) broadcastOperation(kind domain.OperationKind, data *domain.OperationData) {
	e.broadcast(domain.Message{Type: domain.MessageOperation, Op: kind, Data: data})
}

func (e *ReplicationEngine) broadcast(msg domain.Message) {
	data, ok := e.encode(&msg)
	if !ok {
		return
	}
	n := e.transport.Broadcast(data)
	e.metrics.MessageSent(string(msg.Type), n)
}

func (e *ReplicationEngine) send(id domain.ParticipantID, msg domain.Message) {
	data, ok := e.encode(&msg)
	if !ok {
		return
	}
	delivered := 0
	if e.transport.Send(id, data) {
		delivered = 1
	} else {
		e.logger.Debugw("message not delivered",
			"peer_id", id,
			"message_type", msg.Type,
			"error", domain.ErrChannelUnavailable,
		)
	}
	e.metrics.MessageSent(string(msg.Type), delivered)
}

func (e *ReplicationEngine) encode(msg *domain.Message) ([]byte, bool) {
	msg.SenderID = e.registry.LocalID()
	if msg.Timestamp == 0 {
		msg.Timestamp = e.now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Errorw("failed to encode message", "message_type", msg.Type, "error", err)
		return nil, false
	}
	return data, true
}

// wireCollection leaves the default collection implicit on the wire.
func wireCollection(coll domain.Collection) domain.Collection {
	if coll == domain.CollectionObjects {
		return ""
	}
	return coll
}

type noTransport struct{}

func (noTransport) Send(domain.ParticipantID, []byte) bool { return false }
func (noTransport) Broadcast([]byte) int { return 0 }
func (noTransport) OpenPeers() []domain.ParticipantID { return nil }
