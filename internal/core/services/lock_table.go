package services

import (
	"sort"
	"sync"

	"peerboard/internal/core/domain"
)

// Membership reports whether a participant id is currently known.
type Membership interface {
	Contains(id domain.ParticipantID) bool
}

type lockEntry struct {
	holder      domain.ParticipantID
	requestedAt int64
	// awaiting is non-nil while a local grant waits for peer confirmation.
	awaiting map[domain.ParticipantID]struct{}
}

// LockClaim is a holder together with the time its request was made. A zero
// RequestedAt marks an established lock that later requests cannot contest.
type LockClaim struct {
	Holder      domain.ParticipantID
	RequestedAt int64
}

type claimKey struct {
	object domain.ObjectID
	holder domain.ParticipantID
}

// LockTable is the advisory per-object lock map.
type LockTable struct {
	mu       sync.RWMutex
	localID  domain.ParticipantID
	members  Membership
	entries  map[domain.ObjectID]*lockEntry
	byHolder map[domain.ParticipantID]map[domain.ObjectID]struct{}
	// withdrawn holds the newest released claim per remote holder; requests
	// at or before it arrived late and are refused.
	withdrawn map[claimKey]int64
}

func NewLockTable(localID domain.ParticipantID, members Membership) *LockTable {
	return &LockTable{
		localID:   localID,
		members:   members,
		entries:   make(map[domain.ObjectID]*lockEntry),
		byHolder:  make(map[domain.ParticipantID]map[domain.ObjectID]struct{}),
		withdrawn: make(map[claimKey]int64),
	}
}

// Acquire grants the lock when the object is unlocked or already held by holder.
func (t *LockTable) Acquire(objectID domain.ObjectID, holder domain.ParticipantID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.acquire(objectID, holder, 0, nil)
}

// AcquireLocal grants the lock to the local participant. When awaiting is
// not empty the grant stays pending until every listed peer confirms it.
func (t *LockTable) AcquireLocal(objectID domain.ObjectID, requestedAt int64, awaiting []domain.ParticipantID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending map[domain.ParticipantID]struct{}
	if len(awaiting) > 0 {
		pending = make(map[domain.ParticipantID]struct{}, len(awaiting))
		for _, id := range awaiting {
			if id != t.localID {
				pending[id] = struct{}{}
			}
		}
		if len(pending) == 0 {
			pending = nil
		}
	}
	return t.acquire(objectID, t.localID, requestedAt, pending)
}

func (t *LockTable) acquire(objectID domain.ObjectID, holder domain.ParticipantID, requestedAt int64, awaiting map[domain.ParticipantID]struct{}) bool {
	if objectID == "" || holder == "" {
		return false
	}
	if holder != t.localID && !t.members.Contains(holder) {
		return false
	}

	if e, ok := t.entries[objectID]; ok {
		return e.holder == holder
	}

	t.set(objectID, &lockEntry{holder: holder, requestedAt: requestedAt, awaiting: awaiting})
	return true
}

// HandleRemoteRequest answers a lock_request from requester. Every
// participant orders competing claims the same way: the smaller
// (requestedAt, participant id) pair wins, unless the current claim is
// established. revoked reports that the local participant lost a pending
// grant it had.
func (t *LockTable) HandleRemoteRequest(objectID domain.ObjectID, requester domain.ParticipantID, requestedAt int64) (granted, revoked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if objectID == "" || requester == "" || !t.members.Contains(requester) {
		return false, false
	}
	if at, ok := t.withdrawn[claimKey{objectID, requester}]; ok && requestedAt <= at {
		return false, false
	}

	e, ok := t.entries[objectID]
	if !ok {
		t.set(objectID, &lockEntry{holder: requester, requestedAt: requestedAt})
		return true, false
	}
	if e.holder == requester {
		return true, false
	}
	if e.holder == t.localID && e.awaiting == nil {
		return false, false
	}
	if e.requestedAt == 0 || !precedes(requestedAt, requester, e.requestedAt, e.holder) {
		return false, false
	}

	revoked = e.holder == t.localID
	t.unset(objectID)
	t.set(objectID, &lockEntry{holder: requester, requestedAt: requestedAt})
	return true, revoked
}

func precedes(ts1 int64, id1 domain.ParticipantID, ts2 int64, id2 domain.ParticipantID) bool {
	if ts1 != ts2 {
		return ts1 < ts2
	}
	return id1 < id2
}

// Confirm records a granted response from peer for the pending local claim
// made at requestedAt. Zero matches any claim. It reports true once the lock
// is fully confirmed.
func (t *LockTable) Confirm(objectID domain.ObjectID, peer domain.ParticipantID, requestedAt int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[objectID]
	if !ok || e.holder != t.localID {
		return false
	}
	if requestedAt != 0 && e.requestedAt != requestedAt {
		return false
	}
	if e.awaiting == nil {
		return true
	}
	delete(e.awaiting, peer)
	if len(e.awaiting) == 0 {
		e.awaiting = nil
		return true
	}
	return false
}

// Deny handles a refused response from peer to the local claim made at
// requestedAt. A pending local grant that was waiting on peer is revoked and
// the entry moves to holder when it is a known remote participant. It returns
// the revoked claim.
func (t *LockTable) Deny(objectID domain.ObjectID, peer domain.ParticipantID, requestedAt int64, holder LockClaim) (LockClaim, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[objectID]
	if !ok || e.holder != t.localID || e.awaiting == nil {
		return LockClaim{}, false
	}
	if requestedAt != 0 && e.requestedAt != requestedAt {
		return LockClaim{}, false
	}
	if _, waiting := e.awaiting[peer]; !waiting {
		return LockClaim{}, false
	}

	lost := LockClaim{Holder: t.localID, RequestedAt: e.requestedAt}
	t.unset(objectID)
	if holder.Holder != "" && holder.Holder != t.localID && t.members.Contains(holder.Holder) {
		t.set(objectID, &lockEntry{holder: holder.Holder, requestedAt: holder.RequestedAt})
	}
	return lost, true
}

// HandleRemoteRelease drops the claim holder made at or before requestedAt
// and remembers it as withdrawn. Zero releases whatever holder has.
func (t *LockTable) HandleRemoteRelease(objectID domain.ObjectID, holder domain.ParticipantID, requestedAt int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if requestedAt > 0 {
		key := claimKey{objectID, holder}
		if requestedAt > t.withdrawn[key] {
			t.withdrawn[key] = requestedAt
		}
	}

	e, ok := t.entries[objectID]
	if !ok || e.holder != holder {
		return false
	}
	if requestedAt > 0 && e.requestedAt > requestedAt {
		return false
	}
	t.unset(objectID)
	return true
}

// Release frees the lock if holder currently holds it.
func (t *LockTable) Release(objectID domain.ObjectID, holder domain.ParticipantID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[objectID]
	if !ok || e.holder != holder {
		return false
	}
	t.unset(objectID)
	return true
}

// ReleaseAll frees every lock held by holder and returns the object ids.
func (t *LockTable) ReleaseAll(holder domain.ParticipantID) []domain.ObjectID {
	t.mu.Lock()
	defer t.mu.Unlock()

	held := t.byHolder[holder]
	released := make([]domain.ObjectID, 0, len(held))
	for id := range held {
		delete(t.entries, id)
		released = append(released, id)
	}
	delete(t.byHolder, holder)
	t.forgetWithdrawn(holder)
	sortObjectIDs(released)
	return released
}

// ForgetPeer drops peer from every pending confirmation. Locks left with
// nobody to wait for become confirmed.
func (t *LockTable) ForgetPeer(peer domain.ParticipantID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.byHolder[t.localID] {
		e := t.entries[id]
		if e == nil || e.awaiting == nil {
			continue
		}
		delete(e.awaiting, peer)
		if len(e.awaiting) == 0 {
			e.awaiting = nil
		}
	}
	t.forgetWithdrawn(peer)
}

func (t *LockTable) forgetWithdrawn(holder domain.ParticipantID) {
	for key := range t.withdrawn {
		if key.holder == holder {
			delete(t.withdrawn, key)
		}
	}
}

func (t *LockTable) Holder(objectID domain.ObjectID) (domain.ParticipantID, bool) {
	claim, ok := t.Claim(objectID)
	return claim.Holder, ok
}

func (t *LockTable) Claim(objectID domain.ObjectID) (LockClaim, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[objectID]
	if !ok {
		return LockClaim{}, false
	}
	return LockClaim{Holder: e.holder, RequestedAt: e.requestedAt}, true
}

// IsLocked reports whether the object is held by anyone other than exclude.
func (t *LockTable) IsLocked(objectID domain.ObjectID, exclude domain.ParticipantID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[objectID]
	return ok && e.holder != exclude
}

func (t *LockTable) IsPending(objectID domain.ObjectID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[objectID]
	return ok && e.awaiting != nil
}

func (t *LockTable) HeldBy(holder domain.ParticipantID) []domain.ObjectID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.ObjectID, 0, len(t.byHolder[holder]))
	for id := range t.byHolder[holder] {
		out = append(out, id)
	}
	sortObjectIDs(out)
	return out
}

// Snapshot returns a copy of the object to holder mapping.
func (t *LockTable) Snapshot() map[domain.ObjectID]domain.ParticipantID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[domain.ObjectID]domain.ParticipantID, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.holder
	}
	return out
}

func (t *LockTable) set(objectID domain.ObjectID, e *lockEntry) {
	t.entries[objectID] = e
	held, ok := t.byHolder[e.holder]
	if !ok {
		held = make(map[domain.ObjectID]struct{})
		t.byHolder[e.holder] = held
	}
	held[objectID] = struct{}{}
}

func (t *LockTable) unset(objectID domain.ObjectID) {
	e, ok := t.entries[objectID]
	if !ok {
		return
	}
	delete(t.entries, objectID)
	if held := t.byHolder[e.holder]; held != nil {
		delete(held, objectID)
		if len(held) == 0 {
			delete(t.byHolder, e.holder)
		}
	}
}

func sortObjectIDs(ids []domain.ObjectID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
