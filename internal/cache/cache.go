// Package cache stores JSON-encoded values with an expiry, in process or in redis.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service defines cache operations. Get decodes the stored value into dest.
type Service interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
}

// Key joins a namespace and id the way every caller spells cache keys.
func Key(namespace, id string) string {
	return namespace + ":" + id
}
