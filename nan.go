// Package nan is the entry point for the nan agent memory system. It
// re-exports the commonly used types from the sub-packages:
//   - github.com/0x4133/nan/pkg/memory - agent logs, the memory pool, detach and attach
//   - github.com/0x4133/nan/pkg/store - the Redis and in-memory stores
//   - github.com/0x4133/nan/pkg/ai - text generation providers
//   - github.com/0x4133/nan/pkg/config - layered configuration
package nan

import (
	"context"

	"github.com/0x4133/nan/internal/service"
	"github.com/0x4133/nan/pkg/ai"
	"github.com/0x4133/nan/pkg/config"
	"github.com/0x4133/nan/pkg/memory"
	"github.com/0x4133/nan/pkg/store"
)

type (
	// Memory types
	Agent      = memory.Agent
	Pool       = memory.Pool
	Registry   = memory.Registry
	AttachMode = memory.AttachMode
	Report     = memory.Report

	// Storage
	Store             = store.Store
	RedisStore        = store.RedisStore
	RedisStoreOptions = store.RedisStoreOptions
	InMemoryStore     = store.InMemoryStore

	// Generation
	Generator = ai.Generator

	// Configuration
	Config = config.Config
	Option = config.Option

	// Service runs commands against one configured store.
	Service = service.Service
)

const (
	AttachReplace      = memory.AttachReplace
	AttachAppend       = memory.AttachAppend
	AttachRequireEmpty = memory.AttachRequireEmpty
)

var (
	NewAgent         = memory.NewAgent
	NewPool          = memory.NewPool
	NewRegistry      = memory.NewRegistry
	NewRedisStore    = store.NewRedisStore
	NewInMemoryStore = store.NewInMemoryStore
	NewGenerator     = ai.NewGenerator
	NewConfig        = config.NewConfig
	DefaultConfig    = config.DefaultConfig

	// Configuration options
	WithRedisURL         = config.WithRedisURL
	WithNamespace        = config.WithNamespace
	WithStoreProvider    = config.WithStoreProvider
	WithOperationTimeout = config.WithOperationTimeout
	WithLockProvider     = config.WithLockProvider
	WithGeneration       = config.WithGeneration
	WithAPIKey           = config.WithAPIKey
	WithLogLevel         = config.WithLogLevel
	WithTelemetry        = config.WithTelemetry
	WithConfigFile       = config.WithConfigFile
)

// New builds a Service from defaults, the environment and opts. Callers
// must Close it.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return service.New(ctx, cfg, service.WithVersion(Version))
}
