package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "peerboard:"

// RedisBoardRepository stores each collection of a room as a hash of
// object JSON keyed by id, plus a sorted set holding the z-order.
type RedisBoardRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisBoardRepository(client *redis.Client) ports.BoardRepository {
	return &RedisBoardRepository{
		client: client,
		prefix: keyPrefix,
	}
}

func (r *RedisBoardRepository) roomKey(id domain.RoomID) string {
	return fmt.Sprintf("%sroom:%s", r.prefix, id)
}

func (r *RedisBoardRepository) objectsKey(room domain.RoomID, coll domain.Collection) string {
	return fmt.Sprintf("%sroom:%s:%s", r.prefix, room, coll)
}

func (r *RedisBoardRepository) orderKey(room domain.RoomID, coll domain.Collection) string {
	return fmt.Sprintf("%sroom:%s:%s:order", r.prefix, room, coll)
}

func (r *RedisBoardRepository) seqKey(room domain.RoomID) string {
	return fmt.Sprintf("%sroom:%s:seq", r.prefix, room)
}

func (r *RedisBoardRepository) SaveRoom(ctx context.Context, room *domain.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("room id is required")
	}
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.roomKey(room.ID), data, 0)
	pipe.SAdd(ctx, roomIndexKey, string(room.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save room in Redis: %w", err)
	}
	return nil
}

func (r *RedisBoardRepository) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

// SaveObjects writes objects in one transaction. New ids are appended to
// the z-order; existing ids keep their position.
func (r *RedisBoardRepository) SaveObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, objs []*domain.Object) error {
	if !coll.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCollection, coll)
	}

	fields := make(map[string]interface{}, len(objs))
	order := make([]domain.ObjectID, 0, len(objs))
	for _, obj := range objs {
		if obj == nil || obj.ID == "" {
			continue
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to marshal object %s: %w", obj.ID, err)
		}
		if _, dup := fields[string(obj.ID)]; !dup {
			order = append(order, obj.ID)
		}
		fields[string(obj.ID)] = data
	}
	if len(fields) == 0 {
		return nil
	}

	last, err := r.client.IncrBy(ctx, r.seqKey(room), int64(len(order))).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate order: %w", err)
	}
	first := last - int64(len(order)) + 1

	members := make([]redis.Z, 0, len(order))
	for i, id := range order {
		members = append(members, redis.Z{Score: float64(first + int64(i)), Member: string(id)})
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.objectsKey(room, coll), fields)
	pipe.ZAddNX(ctx, r.orderKey(room, coll), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save objects in Redis: %w", err)
	}
	return nil
}

func (r *RedisBoardRepository) DeleteObjects(ctx context.Context, room domain.RoomID, coll domain.Collection, ids []domain.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	fields := make([]string, 0, len(ids))
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		fields = append(fields, string(id))
		members = append(members, string(id))
	}

	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, r.objectsKey(room, coll), fields...)
	pipe.ZRem(ctx, r.orderKey(room, coll), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete objects from Redis: %w", err)
	}
	return nil
}

// ListObjects returns objects in z-order. Entries whose JSON is missing or
// corrupt are skipped.
func (r *RedisBoardRepository) ListObjects(ctx context.Context, room domain.RoomID, coll domain.Collection) ([]*domain.Object, error) {
	ids, err := r.client.ZRange(ctx, r.orderKey(room, coll), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list object order: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Object{}, nil
	}

	values, err := r.client.HMGet(ctx, r.objectsKey(room, coll), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load objects: %w", err)
	}

	objs := make([]*domain.Object, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var obj domain.Object
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			continue
		}
		objs = append(objs, &obj)
	}
	return objs, nil
}

func (r *RedisBoardRepository) ClearRoom(ctx context.Context, room domain.RoomID) error {
	keys := []string{r.seqKey(room)}
	for _, coll := range []domain.Collection{domain.CollectionObjects, domain.CollectionStickies} {
		keys = append(keys, r.objectsKey(room, coll), r.orderKey(room, coll))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear room in Redis: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the repository factory.
func (r *RedisBoardRepository) Close() error {
	return nil
}
