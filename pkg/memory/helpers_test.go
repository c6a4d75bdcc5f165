package memory_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/0x4133/nan/pkg/memory"
	"github.com/0x4133/nan/pkg/store"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *store.RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient(client, "", nil)
	t.Cleanup(func() { _ = st.Close() })
	return mr, st
}

// backends runs fn against miniredis and the in-memory store.
func backends(t *testing.T, fn func(t *testing.T, st store.LockingStore)) {
	t.Run("redis", func(t *testing.T) {
		_, st := setupTestRedis(t)
		fn(t, st)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewInMemoryStore())
	})
}

// fixedIDs yields ids in order, then repeats the last.
func fixedIDs(ids ...string) memory.IDGenerator {
	var n int64
	return memory.IDGeneratorFunc(func() string {
		i := atomic.AddInt64(&n, 1) - 1
		if int(i) >= len(ids) {
			return ids[len(ids)-1]
		}
		return ids[i]
	})
}

func addAll(t *testing.T, a *memory.Agent, items ...string) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, a.AddMemory(context.Background(), item))
	}
}

func query(t *testing.T, a *memory.Agent) []string {
	t.Helper()
	items, err := a.QueryMemory(context.Background())
	require.NoError(t, err)
	return items
}

// hookStore runs hook once, just before the first call of op whose key has
// prefix. It lets a test interleave another operation mid-sequence.
type hookStore struct {
	*store.InMemoryStore
	op     string
	prefix string
	hook   func()
	once   sync.Once
}

func newHookStore(op, prefix string) *hookStore {
	return &hookStore{InMemoryStore: store.NewInMemoryStore(), op: op, prefix: prefix}
}

func (h *hookStore) fire(op, key string) {
	if op == h.op && strings.HasPrefix(key, h.prefix) && h.hook != nil {
		h.once.Do(h.hook)
	}
}

func (h *hookStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	h.fire(store.OpSetNX, key)
	return h.InMemoryStore.SetNX(ctx, key, value, ttl)
}

func (h *hookStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	h.fire(store.OpSRem, key)
	return h.InMemoryStore.SRem(ctx, key, members...)
}
