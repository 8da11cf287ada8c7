package redis

import (
	"context"
	"fmt"
	"time"

	"peerboard/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ClientConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	// ConnectRetry governs the initial ping; the zero value pings once.
	ConnectRetry retry.Config
}

// NewRedisClient connects, pings and migrates. The returned client is
// ready for the board repository.
func NewRedisClient(cfg ClientConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.Do(context.Background(), cfg.ConnectRetry, func(ctx context.Context) error {
		pingCtx, pingCancel := context.WithTimeout(ctx, dialTimeout)
		defer pingCancel()
		err := client.Ping(pingCtx).Err()
		if err != nil && logger != nil {
			logger.Debugw("redis ping failed", "address", cfg.Address, "error", err)
		}
		return err
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis",
			"address", cfg.Address,
			"db", cfg.DB,
			"pool_size", cfg.PoolSize,
		)
	}

	return client, nil
}

func CloseRedisClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
