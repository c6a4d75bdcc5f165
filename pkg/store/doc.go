// Package store defines the key-value storage contract nan's memory model is
// built on, together with a Redis implementation and an in-memory one.
//
// The contract covers three shapes of data:
//   - scalars: Get, Set, SetNX, Del, Incr
//   - ordered lists: RPush, LRange, LLen
//   - unordered id sets: SAdd, SRem, SMembers, SIsMember
//
// Each call is atomic on its own. Nothing in the contract spans keys, so
// callers that touch several keys must order their writes and compensate on
// failure themselves.
//
// Absence is never an error: Get reports it through its found flag and reads
// of missing lists or sets return empty slices. Every backend failure is
// wrapped with ErrStorageUnavailable.
//
// # Redis
//
//	st, err := store.NewRedisStore(store.RedisStoreOptions{
//	    RedisURL:  "redis://localhost:6379",
//	    Namespace: "nan",
//	})
//
// Keys are prefixed with "<namespace>:" when a namespace is set.
//
// # Locks
//
// Both backends also implement Locker, a token-based advisory lock with
// expiry used to serialize structural operations across processes.
package store
