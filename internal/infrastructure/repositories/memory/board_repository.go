package memory

import (
	"context"
	"fmt"
	"sync"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
)

type collectionKey struct {
	room domain.RoomID
	coll domain.Collection
}

// objectList keeps objects in first-save order.
type objectList struct {
	order []domain.ObjectID
	byID  map[domain.ObjectID]*domain.Object
}

type MemoryBoardRepository struct {
	rooms       map[domain.RoomID]*domain.Room
	collections map[collectionKey]*objectList
	mu          sync.RWMutex
}

func NewMemoryBoardRepository() ports.BoardRepository {
	return &MemoryBoardRepository{
		rooms:       make(map[domain.RoomID]*domain.Room),
		collections: make(map[collectionKey]*objectList),
	}
}

func (r *MemoryBoardRepository) SaveRoom(ctx context.Context, room *domain.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("room id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *room
	r.rooms[room.ID] = &copied
	return nil
}

func (r *MemoryBoardRepository) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (r *MemoryBoardRepository) SaveObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, objs []*domain.Object) error {
	if !coll.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCollection, coll)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := collectionKey{room: room, coll: coll}
	list, ok := r.collections[key]
	if !ok {
		list = &objectList{byID: make(map[domain.ObjectID]*domain.Object)}
		r.collections[key] = list
	}

	for _, obj := range objs {
		if obj == nil || obj.ID == "" {
			continue
		}
		if _, exists := list.byID[obj.ID]; !exists {
			list.order = append(list.order, obj.ID)
		}
		list.byID[obj.ID] = obj.Clone()
	}
	return nil
}

func (r *MemoryBoardRepository) DeleteObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, ids []domain.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.collections[collectionKey{room: room, coll: coll}]
	if !ok {
		return nil
	}

	removed := make(map[domain.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		if _, exists := list.byID[id]; exists {
			delete(list.byID, id)
			removed[id] = struct{}{}
		}
	}
	if len(removed) == 0 {
		return nil
	}

	kept := list.order[:0]
	for _, id := range list.order {
		if _, gone := removed[id]; !gone {
			kept = append(kept, id)
		}
	}
	list.order = kept
	return nil
}

func (r *MemoryBoardRepository) ListObjects(ctx context.Context, room domain.RoomID, coll domain.Collection) ([]*domain.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.collections[collectionKey{room: room, coll: coll}]
	if !ok {
		return []*domain.Object{}, nil
	}

	objs := make([]*domain.Object, 0, len(list.order))
	for _, id := range list.order {
		objs = append(objs, list.byID[id].Clone())
	}
	return objs, nil
}

// ClearRoom removes every object of the room. Room metadata is kept.
func (r *MemoryBoardRepository) ClearRoom(ctx context.Context, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.collections {
		if key.room == room {
			delete(r.collections, key)
		}
	}
	return nil
}

func (r *MemoryBoardRepository) Close() error {
	return nil
}
