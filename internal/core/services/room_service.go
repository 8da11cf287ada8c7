package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"

	"go.uber.org/zap"
)

const exportVersion = "1.0"

type ImportStrategy string

const (
	ImportMerge   ImportStrategy = "merge"
	ImportReplace ImportStrategy = "replace"
)

// RoomService owns room metadata, startup restore and export/import.
type RoomService struct {
	repo   ports.BoardRepository
	engine *ReplicationEngine
	roomID domain.RoomID
	logger *zap.SugaredLogger
	now    func() time.Time

	room domain.Room
}

func NewRoomService(repo ports.BoardRepository, engine *ReplicationEngine, roomID domain.RoomID, logger *zap.SugaredLogger) *RoomService {
	return &RoomService{
		repo:   repo,
		engine: engine,
		roomID: roomID,
		logger: logger,
		now:    time.Now,
	}
}

// Init loads or creates the room metadata and restores persisted objects
// into the engine. It must run on the event loop.
func (s *RoomService) Init(ctx context.Context) (domain.Room, error) {
	room, err := s.repo.GetRoom(ctx, s.roomID)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		now := s.now()
		room = &domain.Room{ID: s.roomID, CreatedAt: now, LastModified: now}
		if err := s.repo.SaveRoom(ctx, room); err != nil {
			return domain.Room{}, fmt.Errorf("save room: %w", err)
		}
		s.logger.Infow("created room", "room_id", s.roomID)
	case err != nil:
		return domain.Room{}, fmt.Errorf("load room: %w", err)
	}
	s.room = *room

	restored := 0
	for _, coll := range []domain.Collection{domain.CollectionObjects, domain.CollectionStickies} {
		objs, err := s.repo.ListObjects(ctx, s.roomID, coll)
		if err != nil {
			return domain.Room{}, fmt.Errorf("load %s: %w", coll, err)
		}
		restored += s.engine.Restore(coll, objs)
	}

	s.logger.Infow("room ready", "room_id", s.roomID, "restored_objects", restored)
	return s.room, nil
}

func (s *RoomService) Room() domain.Room {
	return s.room
}

// Touch records a modification time on the room metadata.
func (s *RoomService) Touch(ctx context.Context) error {
	s.room.LastModified = s.now()
	room := s.room
	return s.repo.SaveRoom(ctx, &room)
}

// Export returns the current board as a portable document.
func (s *RoomService) Export() domain.RoomExport {
	objects := s.engine.Objects()
	stickies := s.engine.Stickies()
	return domain.RoomExport{
		Version:     exportVersion,
		RoomID:      s.roomID,
		CreatedAt:   s.room.CreatedAt,
		ExportedAt:  s.now(),
		Objects:     objects,
		Stickies:    stickies,
		ObjectCount: len(objects) + len(stickies),
	}
}

// Import adds the exported objects to the board under fresh ids. With the
// replace strategy the board is cleared first. Every object is replicated
// as a regular add.
func (s *RoomService) Import(ctx context.Context, data domain.RoomExport, strategy ImportStrategy) (int, error) {
	switch strategy {
	case "", ImportMerge:
	case ImportReplace:
		s.engine.Clear()
	default:
		return 0, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidImport, strategy)
	}

	imported := 0
	for _, coll := range []struct {
		name domain.Collection
		objs []*domain.Object
	}{
		{domain.CollectionObjects, data.Objects},
		{domain.CollectionStickies, data.Stickies},
	} {
		for _, obj := range coll.objs {
			if obj == nil {
				continue
			}
			fresh := obj.Clone()
			fresh.ID = ""
			if _, err := s.engine.add(coll.name, fresh); err != nil {
				s.logger.Warnw("skipping imported object", "object_type", obj.Type, "error", err)
				continue
			}
			imported++
		}
	}

	if err := s.Touch(ctx); err != nil {
		s.logger.Warnw("failed to update room metadata", "room_id", s.roomID, "error", err)
	}
	s.logger.Infow("imported room data", "room_id", s.roomID, "strategy", strategy, "objects", imported)
	return imported, nil
}
