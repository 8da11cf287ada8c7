package ports

import (
	"context"

	"peerboard/internal/core/domain"
)

type BoardRepository interface {
	SaveRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	SaveObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, objs []*domain.Object) error
	DeleteObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, ids []domain.ObjectID) error
	ListObjects(ctx context.Context, room domain.RoomID, coll domain.Collection) ([]*domain.Object, error)
	ClearRoom(ctx context.Context, room domain.RoomID) error
	Close() error
}
