// Package service wires configuration, storage, memory and generation
// together and exposes one method per command.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/0x4133/nan/pkg/ai"
	"github.com/0x4133/nan/pkg/config"
	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/memory"
	"github.com/0x4133/nan/pkg/resilience"
	"github.com/0x4133/nan/pkg/store"
	"github.com/0x4133/nan/pkg/telemetry"
)

// Service runs memory commands against one shared store connection.
type Service struct {
	cfg      *config.Config
	logger   logger.Logger
	store    store.Store
	pool     *memory.Pool
	registry *memory.Registry

	generator ai.Generator
	breaker   *resilience.CircuitBreaker
	readRetry *resilience.RetryConfig
	genRetry  *resilience.RetryConfig

	telemetry *telemetry.Provider
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger    logger.Logger
	store     store.Store
	generator ai.Generator
	ids       memory.IDGenerator
	version   string
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore uses st instead of connecting to the configured store. The
// service closes it on Close.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithGenerator replaces the configured generation provider.
func WithGenerator(g ai.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithIDGenerator replaces the bundle id generator.
func WithIDGenerator(ids memory.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithVersion sets the version reported to telemetry.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New builds a service from cfg. The store is connected once here and
// reused by every command.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		log = logger.NewProductionLogger(logger.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			ServiceName: cfg.ServiceName,
		})
	}

	s := &Service{
		cfg:    cfg,
		logger: logger.ForComponent(log, "service"),
	}

	tp, err := telemetry.Setup(ctx, cfg.TelemetryConfig(o.version))
	if err != nil {
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}
	s.telemetry = tp

	s.store = o.store
	if s.store == nil {
		if s.store, err = openStore(cfg, log); err != nil {
			s.shutdownTelemetry(ctx)
			return nil, err
		}
	}

	locker, err := newLocker(cfg, s.store, log)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	memOpts := []memory.Option{
		memory.WithLogger(log),
		memory.WithLocker(locker),
		memory.WithIDAttempts(cfg.Memory.IDAttempts),
	}
	if o.ids != nil {
		memOpts = append(memOpts, memory.WithIDGenerator(o.ids))
	}
	s.pool = memory.NewPool(s.store, memOpts...)
	s.registry = memory.NewRegistry(s.store, memOpts...)

	s.generator = o.generator
	if s.generator == nil {
		aiCfg := cfg.AIConfig()
		aiCfg.Logger = log
		if s.generator, err = ai.NewGenerator(aiCfg); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}

	if cb := cfg.Resilience.CircuitBreaker; cb.Enabled {
		s.breaker, err = resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
			Name:             "generation",
			FailureThreshold: cb.Threshold,
			SleepWindow:      cb.Timeout,
			HalfOpenRequests: 1,
			Logger:           log,
		})
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("%w: %w", memory.ErrInvalidConfiguration, err)
		}
	}

	retry := cfg.Resilience.Retry
	s.readRetry = &resilience.RetryConfig{
		MaxAttempts:   retry.MaxAttempts,
		InitialDelay:  retry.InitialInterval,
		MaxDelay:      retry.MaxInterval,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		RetryIf:       memory.IsRetryable,
	}
	s.genRetry = &resilience.RetryConfig{
		MaxAttempts:   retry.MaxAttempts,
		InitialDelay:  retry.InitialInterval,
		MaxDelay:      retry.MaxInterval,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		RetryIf:       retryableGeneration,
	}

	s.logger.Info("Service initialized", map[string]interface{}{
		"operation":           "service_init",
		"store_provider":      cfg.Store.Provider,
		"lock_provider":       cfg.Memory.LockProvider,
		"generation_provider": cfg.Generation.Provider,
		"circuit_breaker":     s.breaker != nil,
	})
	return s, nil
}

func openStore(cfg *config.Config, log logger.Logger) (store.Store, error) {
	switch cfg.Store.Provider {
	case config.StoreMemory:
		st := store.NewInMemoryStore()
		st.SetLogger(log)
		return st, nil
	default:
		return store.NewRedisStore(store.RedisStoreOptions{
			RedisURL:    cfg.Redis.URL,
			DB:          cfg.Redis.DB,
			Namespace:   cfg.Redis.Namespace,
			DialTimeout: cfg.Redis.DialTimeout,
			Logger:      log,
		})
	}
}

func newLocker(cfg *config.Config, st store.Store, log logger.Logger) (memory.Locker, error) {
	if cfg.Memory.LockProvider != config.LockStore {
		return memory.NewLocalLocker(), nil
	}
	sl, ok := st.(store.Locker)
	if !ok {
		return nil, fmt.Errorf("store %T cannot hold locks: %w", st, memory.ErrInvalidConfiguration)
	}
	return memory.NewStoreLocker(sl,
		memory.WithLockTTL(cfg.Memory.LockTTL),
		memory.WithLockRetryWait(cfg.Memory.LockRetryWait),
		memory.WithLockLogger(log),
	), nil
}

// retryableGeneration retries provider failures but not configuration
// mistakes or an open circuit.
func retryableGeneration(err error) bool {
	return !errors.Is(err, ai.ErrUnknownProvider) &&
		!errors.Is(err, resilience.ErrCircuitBreakerOpen) &&
		!errors.Is(err, context.Canceled)
}

// Close releases the store and flushes telemetry.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := s.shutdownTelemetry(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) shutdownTelemetry(ctx context.Context) error {
	if s.telemetry == nil {
		return nil
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown telemetry: %w", err)
	}
	return nil
}

// Pool exposes the memory pool, for embedding callers.
func (s *Service) Pool() *memory.Pool { return s.pool }

// Registry exposes the agent registry, for embedding callers.
func (s *Service) Registry() *memory.Registry { return s.registry }

// opContext bounds one command by the operation timeout.
func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Memory.OperationTimeout)
}

// generationBudget covers every generation attempt plus the append.
func (s *Service) generationBudget() time.Duration {
	attempts := s.cfg.Resilience.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return s.cfg.Memory.OperationTimeout + time.Duration(attempts)*(s.cfg.Generation.Timeout+s.cfg.Resilience.Retry.MaxInterval)
}

func (s *Service) agent(ctx context.Context, id string) (*memory.Agent, error) {
	return s.registry.Get(ctx, id)
}

func (s *Service) logFailure(ctx context.Context, op string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["operation"] = op
	fields["error"] = err.Error()
	fields = telemetry.WithTraceFields(ctx, fields)
	if memory.IsConsistencyError(err) {
		s.logger.Error("Command left storage inconsistent", fields)
		return
	}
	s.logger.Warn("Command failed", fields)
}

// sortedIDs returns ids in a stable order for display.
func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
