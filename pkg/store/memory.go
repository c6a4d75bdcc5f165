package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/0x4133/nan/pkg/logger"
)

// ErrInjected is the default failure returned by FailOn when err is nil.
var ErrInjected = errors.New("injected failure")

// Operation names accepted by FailOn and FailOnKey.
const (
	OpGet       = "GET"
	OpSet       = "SET"
	OpSetNX     = "SETNX"
	OpDel       = "DEL"
	OpIncr      = "INCR"
	OpRPush     = "RPUSH"
	OpLRange    = "LRANGE"
	OpLLen      = "LLEN"
	OpLTrim     = "LTRIM"
	OpSAdd      = "SADD"
	OpSRem      = "SREM"
	OpSMembers  = "SMEMBERS"
	OpSIsMember = "SISMEMBER"
	OpKeys      = "KEYS"
	OpPing      = "PING"
	OpLock      = "LOCK"
	OpUnlock    = "UNLOCK"
)

// InMemoryStore implements LockingStore in process memory. It mirrors the
// Redis semantics nan relies on and supports fault injection for tests.
type InMemoryStore struct {
	mu      sync.Mutex
	strings map[string]memoryEntry
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	faults  []*fault
	closed  bool
	logger  logger.Logger
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type fault struct {
	op        string
	pattern   string
	remaining int
	err       error
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		strings: make(map[string]memoryEntry),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		logger:  &logger.NoOpLogger{},
	}
}

// SetLogger configures the logger for this store.
func (m *InMemoryStore) SetLogger(l logger.Logger) {
	if l != nil {
		m.logger = logger.ForComponent(l, "store/memory")
	}
}

// FailOn makes the next times calls of op fail with err. A negative times
// fails every call until ClearFailures. A nil err uses ErrInjected.
func (m *InMemoryStore) FailOn(op string, times int, err error) {
	m.FailOnKey(op, "*", times, err)
}

// FailOnKey is FailOn restricted to keys matching the glob pattern.
func (m *InMemoryStore) FailOnKey(op, pattern string, times int, err error) {
	if err == nil {
		err = ErrInjected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, &fault{op: op, pattern: pattern, remaining: times, err: err})
}

// ClearFailures removes every injected fault.
func (m *InMemoryStore) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = nil
}

// check must be called with mu held.
func (m *InMemoryStore) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory %s %q: %w: %w", op, key, ErrStorageUnavailable, err)
	}
	if m.closed {
		return fmt.Errorf("memory %s %q: %w: store closed", op, key, ErrStorageUnavailable)
	}
	for i, f := range m.faults {
		if f.op != op {
			continue
		}
		if ok, _ := path.Match(f.pattern, key); !ok && f.pattern != "*" {
			continue
		}
		if f.remaining == 0 {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		if f.remaining == 0 {
			m.faults = append(m.faults[:i:i], m.faults[i+1:]...)
		}
		m.logger.Debug("Injected store failure", map[string]interface{}{
			"operation": op,
			"key":       key,
		})
		return fmt.Errorf("memory %s %q: %w: %w", op, key, ErrStorageUnavailable, f.err)
	}
	return nil
}

// live returns the string entry for key, dropping it when expired.
func (m *InMemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := m.strings[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.strings, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *InMemoryStore) exists(key string) bool {
	if _, ok := m.live(key); ok {
		return true
	}
	if _, ok := m.lists[key]; ok {
		return true
	}
	_, ok := m.sets[key]
	return ok
}

func (m *InMemoryStore) drop(key string) bool {
	found := m.exists(key)
	delete(m.strings, key)
	delete(m.lists, key)
	delete(m.sets, key)
	return found
}

func (m *InMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpGet, key); err != nil {
		return "", false, err
	}
	e, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *InMemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSet, key); err != nil {
		return err
	}
	m.drop(key)
	m.strings[key] = memoryEntry{value: value}
	return nil
}

func (m *InMemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSetNX, key); err != nil {
		return false, err
	}
	return m.setNX(key, value, ttl), nil
}

func (m *InMemoryStore) setNX(key, value string, ttl time.Duration) bool {
	if m.exists(key) {
		return false
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.strings[key] = e
	return true
}

func (m *InMemoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpDel, strings.Join(keys, ",")); err != nil {
		return 0, err
	}
	var n int64
	for _, key := range keys {
		if m.drop(key) {
			n++
		}
	}
	return n, nil
}

func (m *InMemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpIncr, key); err != nil {
		return 0, err
	}
	var cur int64
	if e, ok := m.live(key); ok {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("memory INCR %q: %w: value is not an integer", key, ErrStorageUnavailable)
		}
		cur = v
	}
	cur++
	m.strings[key] = memoryEntry{value: strconv.FormatInt(cur, 10)}
	return cur, nil
}

func (m *InMemoryStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpRPush, key); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return int64(len(m.lists[key])), nil
	}
	m.lists[key] = append(m.lists[key], values...)
	return int64(len(m.lists[key])), nil
}

// LRange follows Redis index rules, including negative offsets from the end.
func (m *InMemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpLRange, key); err != nil {
		return nil, err
	}
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *InMemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpLLen, key); err != nil {
		return 0, err
	}
	return int64(len(m.lists[key])), nil
}

func (m *InMemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpLTrim, key); err != nil {
		return err
	}
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = append([]string(nil), list[start:stop+1]...)
	return nil
}

func (m *InMemoryStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSAdd, key); err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	var added int64
	for _, member := range members {
		if _, exists := set[member]; !exists {
			set[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (m *InMemoryStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSRem, key); err != nil {
		return 0, err
	}
	set := m.sets[key]
	var removed int64
	for _, member := range members {
		if _, exists := set[member]; exists {
			delete(set, member)
			removed++
		}
	}
	if set != nil && len(set) == 0 {
		delete(m.sets, key)
	}
	return removed, nil
}

// SMembers returns members sorted; callers must not rely on the order.
func (m *InMemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSMembers, key); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *InMemoryStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpSIsMember, key); err != nil {
		return false, err
	}
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *InMemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpKeys, pattern); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	collect := func(key string) {
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = struct{}{}
		}
	}
	for key := range m.strings {
		if _, ok := m.live(key); ok {
			collect(key)
		}
	}
	for key := range m.lists {
		collect(key)
	}
	for key := range m.sets {
		collect(key)
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (m *InMemoryStore) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpLock, key); err != nil {
		return false, err
	}
	return m.setNX(key, token, ttl), nil
}

func (m *InMemoryStore) Unlock(ctx context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, OpUnlock, key); err != nil {
		return false, err
	}
	e, ok := m.live(key)
	if !ok || e.value != token {
		return false, nil
	}
	delete(m.strings, key)
	return true, nil
}

func (m *InMemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check(ctx, OpPing, "")
}

// Close marks the store closed; later calls fail with ErrStorageUnavailable.
func (m *InMemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
