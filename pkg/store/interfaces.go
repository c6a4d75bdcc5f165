package store

import (
	"context"
	"time"
)

// Store is the storage contract consumed by the memory package.
type Store interface {
	// Get returns the scalar at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value at key without expiry.
	Set(ctx context.Context, key, value string) error
	// SetNX stores value only if key does not exist. A zero ttl means no expiry.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes keys of any type and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Incr increments the integer at key, starting from zero.
	Incr(ctx context.Context, key string) (int64, error)

	// RPush appends values to the list at key and returns the new length.
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	// LRange returns list elements between start and stop inclusive;
	// negative indexes count from the end.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// LLen returns the length of the list at key.
	LLen(ctx context.Context, key string) (int64, error)
	// LTrim keeps only the elements between start and stop inclusive, using
	// LRange index rules. A list trimmed to nothing is deleted.
	LTrim(ctx context.Context, key string, start, stop int64) error

	// SAdd adds members to the set at key and returns how many were new.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	// SRem removes members and returns how many were present.
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Keys returns the keys matching a glob pattern, without namespace prefix.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Locker is an advisory lock held by whoever knows the token.
type Locker interface {
	// TryLock acquires key for token if it is free. The lock expires after ttl.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Unlock releases key only if it is still held by token.
	Unlock(ctx context.Context, key, token string) (bool, error)
}

// LockingStore is a Store that can also hand out advisory locks.
type LockingStore interface {
	Store
	Locker
}
