package lock

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"geosync/internal/config"
	"geosync/internal/geosync"
)

// NewLockerFromConfig creates a Locker based on the config type.
func NewLockerFromConfig(cfg config.LockConfig, clock geosync.Clock) (geosync.Locker, error) {
	switch cfg.Type {
	case "file", "":
		return NewFileLocker(clock), nil
	case "memory":
		return NewMemoryLocker(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis lock requires redis_addr to be set")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLocker(client, "geosync:lock:", cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown lock type: %s", cfg.Type)
	}
}
