package services

import (
	"encoding/json"
	"sync"

	"peerboard/internal/core/domain"
)

// orderedSet keeps objects in insertion order, which is also z-order.
type orderedSet struct {
	order []domain.ObjectID
	items map[domain.ObjectID]*domain.Object
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: make(map[domain.ObjectID]*domain.Object)}
}

func (s *orderedSet) insert(obj *domain.Object) bool {
	if _, ok := s.items[obj.ID]; ok {
		return false
	}
	s.items[obj.ID] = obj
	s.order = append(s.order, obj.ID)
	return true
}

func (s *orderedSet) remove(id domain.ObjectID) (*domain.Object, bool) {
	obj, ok := s.items[id]
	if !ok {
		return nil, false
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return obj, true
}

func (s *orderedSet) list() []*domain.Object {
	out := make([]*domain.Object, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

type tombstone struct {
	coll domain.Collection
	id   domain.ObjectID
}

// BoardState holds the replicated collections and the staging set of
// in-progress streams. Deleted ids are remembered per collection so a late
// add or finish cannot bring an object back.
type BoardState struct {
	mu          sync.RWMutex
	collections map[domain.Collection]*orderedSet
	tombstones  map[tombstone]struct{}
	staged      *orderedSet
}

func NewBoardState() *BoardState {
	return &BoardState{
		collections: map[domain.Collection]*orderedSet{
			domain.CollectionObjects:  newOrderedSet(),
			domain.CollectionStickies: newOrderedSet(),
		},
		tombstones: make(map[tombstone]struct{}),
		staged:     newOrderedSet(),
	}
}

// Insert adds a copy of obj. Existing and deleted ids are left alone.
func (b *BoardState) Insert(coll domain.Collection, obj *domain.Object) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insert(coll, obj)
}

func (b *BoardState) insert(coll domain.Collection, obj *domain.Object) bool {
	set, ok := b.collections[coll]
	if !ok || obj == nil || obj.ID == "" {
		return false
	}
	if _, deleted := b.tombstones[tombstone{coll, obj.ID}]; deleted {
		return false
	}
	return set.insert(obj.Clone())
}

// Update merges updates into an existing object and returns the new value.
func (b *BoardState) Update(coll domain.Collection, id domain.ObjectID, updates map[string]json.RawMessage) (*domain.Object, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.collections[coll]
	if !ok {
		return nil, false, nil
	}
	obj, ok := set.items[id]
	if !ok {
		return nil, false, nil
	}
	if err := obj.Merge(updates); err != nil {
		return nil, false, err
	}
	return obj.Clone(), true, nil
}

func (b *BoardState) Remove(coll domain.Collection, id domain.ObjectID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.collections[coll]
	if !ok || id == "" {
		return false
	}
	b.tombstones[tombstone{coll, id}] = struct{}{}
	_, removed := set.remove(id)
	// streams only ever commit into the objects collection
	if coll == domain.CollectionObjects {
		if _, wasStaged := b.staged.remove(id); wasStaged {
			removed = true
		}
	}
	return removed
}

func (b *BoardState) Get(coll domain.Collection, id domain.ObjectID) (*domain.Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set, ok := b.collections[coll]
	if !ok {
		return nil, false
	}
	obj, ok := set.items[id]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

func (b *BoardState) Contains(coll domain.Collection, id domain.ObjectID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set, ok := b.collections[coll]
	if !ok {
		return false
	}
	_, ok = set.items[id]
	return ok
}

// Stage starts tracking an in-progress stream. Ids already committed,
// deleted or staged are ignored.
func (b *BoardState) Stage(obj *domain.Object) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stage(obj)
}

func (b *BoardState) stage(obj *domain.Object) bool {
	if obj == nil || obj.ID == "" {
		return false
	}
	if _, deleted := b.tombstones[tombstone{domain.CollectionObjects, obj.ID}]; deleted {
		return false
	}
	if _, committed := b.collections[domain.CollectionObjects].items[obj.ID]; committed {
		return false
	}
	return b.staged.insert(obj.Clone())
}

func (b *BoardState) AppendPoint(id domain.ObjectID, pt domain.Point) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.staged.items[id]
	if !ok {
		return false
	}
	obj.Points = append(obj.Points, pt)
	return true
}

// Unstage removes and returns a staged stream.
func (b *BoardState) Unstage(id domain.ObjectID) (*domain.Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.staged.remove(id)
}

// Clear empties both collections and the staging set.
func (b *BoardState) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for coll := range b.collections {
		b.collections[coll] = newOrderedSet()
	}
	b.staged = newOrderedSet()
}

func (b *BoardState) List(coll domain.Collection) []*domain.Object {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set, ok := b.collections[coll]
	if !ok {
		return nil
	}
	return set.list()
}

func (b *BoardState) Staged() []*domain.Object {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.staged.list()
}

// MergeResult lists what a snapshot merge actually added.
type MergeResult struct {
	Objects  []*domain.Object
	Stickies []*domain.Object
	Staged   int
}

func (r MergeResult) Empty() bool {
	return len(r.Objects) == 0 && len(r.Stickies) == 0 && r.Staged == 0
}

// Merge unions a peer snapshot into the local state. Local entries win.
func (b *BoardState) Merge(objects, stickies, staged []*domain.Object) MergeResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res MergeResult
	for _, obj := range objects {
		if b.insert(domain.CollectionObjects, obj) {
			res.Objects = append(res.Objects, obj.Clone())
		}
	}
	for _, obj := range stickies {
		if b.insert(domain.CollectionStickies, obj) {
			res.Stickies = append(res.Stickies, obj.Clone())
		}
	}
	for _, obj := range staged {
		if b.stage(obj) {
			res.Staged++
		}
	}
	return res
}
