package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	roomIndexKey         = keyPrefix + "rooms"
	currentSchemaVersion = 2
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
	Down    func(ctx context.Context, client *redis.Client) error
}

// Migrate brings the keyspace up to currentSchemaVersion, running each
// pending migration in order and recording its version as it completes.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date", "current_version", currentVersion)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if logger != nil {
			logger.Infow("migration completed", "version", migration.Version)
		}
	}

	return nil
}

// getSchemaVersion gets the current schema version from Redis
func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil // No version set, start from 0
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// setSchemaVersion sets the schema version in Redis
func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				// room index
				exists, err := client.Exists(ctx, roomIndexKey).Result()
				if err != nil {
					return err
				}
				if exists == 0 {
					if err := client.SAdd(ctx, roomIndexKey, "").Err(); err != nil {
						return err
					}
					client.SRem(ctx, roomIndexKey, "")
				}
				return nil
			},
			Down: func(ctx context.Context, client *redis.Client) error {
				return client.Del(ctx, roomIndexKey).Err()
			},
		},
		{
			Version: 2,
			Up: func(ctx context.Context, client *redis.Client) error {
				// Rooms saved before the index existed are discovered by key scan.
				iter := client.Scan(ctx, 0, keyPrefix+"room:*", 100).Iterator()
				for iter.Next(ctx) {
					id, ok := roomIDFromKey(iter.Val())
					if !ok {
						continue
					}
					if err := client.SAdd(ctx, roomIndexKey, id).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
			Down: func(ctx context.Context, client *redis.Client) error {
				return nil
			},
		},
	}
}

// roomIDFromKey extracts the id from a room metadata key, rejecting the
// per-collection keys that share its prefix.
func roomIDFromKey(key string) (string, bool) {
	rest := strings.TrimPrefix(key, keyPrefix+"room:")
	if rest == key || rest == "" || strings.Contains(rest, ":") {
		return "", false
	}
	return rest, true
}
