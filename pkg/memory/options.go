package memory

import (
	"github.com/google/uuid"

	"github.com/0x4133/nan/pkg/logger"
)

// DefaultIDAttempts bounds bundle id regeneration after a collision.
const DefaultIDAttempts = 3

// IDGenerator issues bundle ids.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string { return f() }

// UUIDGenerator issues random (version 4) UUIDs.
var UUIDGenerator IDGenerator = IDGeneratorFunc(uuid.NewString)

type settings struct {
	logger     logger.Logger
	ids        IDGenerator
	idAttempts int
	locker     Locker
}

func newSettings(opts []Option) settings {
	s := settings{
		ids:        UUIDGenerator,
		idAttempts: DefaultIDAttempts,
		locker:     defaultLocker,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a Pool, Agent or Registry.
type Option func(*settings)

// WithLogger sets the logger. Nil keeps the no-op default.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithIDGenerator replaces the UUID generator, mainly for tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *settings) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithIDAttempts sets how many ids Pool.Add tries before ErrIDCollision.
func WithIDAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.idAttempts = n
		}
	}
}

// WithLocker sets the per-agent lock used by structural operations.
func WithLocker(l Locker) Option {
	return func(s *settings) {
		if l != nil {
			s.locker = l
		}
	}
}
