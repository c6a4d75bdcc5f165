package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/store"
)

// Lock defaults for StoreLocker.
const (
	DefaultLockTTL       = 30 * time.Second
	DefaultLockRetryWait = 50 * time.Millisecond
)

// Locker serializes structural operations on one agent. Lock blocks until the
// lock is held or ctx is done, in which case the error wraps ErrLockTimeout.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var defaultLocker = NewLocalLocker()

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, fmt.Errorf("lock %s: %w: %w", key, ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *LocalLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// StoreLocker is an advisory lock held in the store, for deployments where
// several processes share one store. A crashed holder's lock expires after TTL.
type StoreLocker struct {
	locker    store.Locker
	ttl       time.Duration
	retryWait time.Duration
	logger    logger.Logger
}

// StoreLockerOption configures a StoreLocker.
type StoreLockerOption func(*StoreLocker)

// WithLockTTL sets the lock expiry.
func WithLockTTL(ttl time.Duration) StoreLockerOption {
	return func(s *StoreLocker) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLockRetryWait sets the polling interval while the lock is contended.
func WithLockRetryWait(d time.Duration) StoreLockerOption {
	return func(s *StoreLocker) {
		if d > 0 {
			s.retryWait = d
		}
	}
}

// WithLockLogger sets the logger.
func WithLockLogger(l logger.Logger) StoreLockerOption {
	return func(s *StoreLocker) {
		s.logger = logger.ForComponent(l, "memory/lock")
	}
}

// NewStoreLocker creates a StoreLocker on top of a store lock primitive.
func NewStoreLocker(l store.Locker, opts ...StoreLockerOption) *StoreLocker {
	s := &StoreLocker{
		locker:    l,
		ttl:       DefaultLockTTL,
		retryWait: DefaultLockRetryWait,
		logger:    &logger.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StoreLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(s.retryWait)
	defer ticker.Stop()

	waited := false
	for {
		ok, err := s.locker.TryLock(ctx, key, token, s.ttl)
		if err != nil {
			return nil, opError("lock.acquire", "lock", key, err)
		}
		if ok {
			if waited {
				s.logger.Debug("Acquired contended lock", map[string]interface{}{
					"operation": "lock_acquire",
					"key":       key,
				})
			}
			return s.unlockFunc(ctx, key, token), nil
		}
		waited = true

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Warn("Gave up waiting for lock", map[string]interface{}{
				"operation": "lock_acquire",
				"key":       key,
				"error":     ctx.Err(),
			})
			return nil, fmt.Errorf("lock %s: %w: %w", key, ErrLockTimeout, ctx.Err())
		}
	}
}

func (s *StoreLocker) unlockFunc(ctx context.Context, key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			cctx, cancel := compensationContext(ctx)
			defer cancel()
			released, err := s.locker.Unlock(cctx, key, token)
			if err != nil {
				s.logger.Error("Failed to release lock", map[string]interface{}{
					"operation": "lock_release",
					"key":       key,
					"error":     err,
				})
				return
			}
			if !released {
				s.logger.Warn("Lock expired before release", map[string]interface{}{
					"operation": "lock_release",
					"key":       key,
					"ttl":       s.ttl.String(),
				})
			}
		})
	}
}
