package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x4133/nan/internal/service"
	"github.com/0x4133/nan/pkg/ai"
	"github.com/0x4133/nan/pkg/config"
	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/memory"
	"github.com/0x4133/nan/pkg/resilience"
	"github.com/0x4133/nan/pkg/store"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Provider = config.StoreMemory
	cfg.Memory.OperationTimeout = 2 * time.Second
	cfg.Resilience.Retry.InitialInterval = time.Millisecond
	cfg.Resilience.Retry.MaxInterval = 5 * time.Millisecond
	return cfg
}

// echoGenerator returns "generated: <prompt>" and counts calls.
type echoGenerator struct {
	calls atomic.Int32
	err   error
}

func (g *echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return "generated: " + prompt, nil
}

func newService(t *testing.T, cfg *config.Config, opts ...service.Option) *service.Service {
	t.Helper()
	opts = append([]service.Option{service.WithLogger(&logger.NoOpLogger{})}, opts...)
	svc, err := service.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestDetachAttachBetweenAgents(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, testConfig(), service.WithGenerator(&echoGenerator{}))

	a, err := svc.Spawn(ctx, "")
	require.NoError(t, err)
	b, err := svc.Spawn(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "1", a)
	assert.Equal(t, "2", b)

	require.NoError(t, svc.Add(ctx, a, "first"))
	require.NoError(t, svc.Add(ctx, a, "second"))
	require.NoError(t, svc.Add(ctx, b, "old"))

	id, err := svc.Detach(ctx, a)
	require.NoError(t, err)

	pool, err := svc.ListPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, pool)

	bundle, found, err := svc.Show(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"first", "second"}, bundle)

	ok, err := svc.Attach(ctx, b, id, memory.AttachReplace)
	require.NoError(t, err)
	assert.True(t, ok)

	itemsA, err := svc.Query(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, itemsA)

	itemsB, err := svc.Query(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, itemsB)

	pool, err = svc.ListPool(ctx)
	require.NoError(t, err)
	assert.Empty(t, pool)

	ok, err = svc.Attach(ctx, a, id, memory.AttachReplace)
	require.NoError(t, err)
	assert.False(t, ok, "a bundle can only be attached once")

	agents, err := svc.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, agents)
}

func TestUnknownAgent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, testConfig(), service.WithGenerator(&echoGenerator{}))

	err := svc.Add(ctx, "ghost", "x")
	assert.True(t, errors.Is(err, memory.ErrAgentNotFound))

	_, err = svc.Query(ctx, "ghost")
	assert.True(t, errors.Is(err, memory.ErrAgentNotFound))
	assert.False(t, errors.Is(err, resilience.ErrMaxRetriesExceeded), "not-found is not retried")

	_, err = svc.Detach(ctx, "ghost")
	assert.True(t, errors.Is(err, memory.ErrAgentNotFound))

	_, err = svc.Attach(ctx, "ghost", "bundle", memory.AttachReplace)
	assert.True(t, errors.Is(err, memory.ErrAgentNotFound))

	_, err = svc.Generate(ctx, "ghost", "prompt")
	assert.True(t, errors.Is(err, memory.ErrAgentNotFound))
}

func TestGenerateAppendsText(t *testing.T) {
	ctx := context.Background()
	gen := &echoGenerator{}
	svc := newService(t, testConfig(), service.WithGenerator(gen))

	id, err := svc.Spawn(ctx, "writer")
	require.NoError(t, err)

	text, err := svc.Generate(ctx, id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "generated: hello", text)

	items, err := svc.Query(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"generated: hello"}, items)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestGenerateFailureLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Resilience.CircuitBreaker.Enabled = false
	gen := &echoGenerator{err: errors.New("connection refused")}
	svc := newService(t, cfg, service.WithGenerator(gen))

	id, err := svc.Spawn(ctx, "writer")
	require.NoError(t, err)
	require.NoError(t, svc.Add(ctx, id, "kept"))

	_, err = svc.Generate(ctx, id, "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ai.ErrGenerationFailed))
	assert.True(t, errors.Is(err, resilience.ErrMaxRetriesExceeded))
	assert.EqualValues(t, cfg.Resilience.Retry.MaxAttempts, gen.calls.Load())

	items, err := svc.Query(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, items)
}

func TestGenerateCircuitBreakerOpens(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Resilience.Retry.MaxAttempts = 1
	cfg.Resilience.CircuitBreaker.Threshold = 2
	cfg.Resilience.CircuitBreaker.Timeout = time.Hour
	gen := &echoGenerator{err: errors.New("503 from provider")}
	svc := newService(t, cfg, service.WithGenerator(gen))

	id, err := svc.Spawn(ctx, "writer")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.Generate(ctx, id, "p")
		require.Error(t, err)
	}

	_, err = svc.Generate(ctx, id, "p")
	assert.True(t, errors.Is(err, resilience.ErrCircuitBreakerOpen))
	assert.True(t, errors.Is(err, ai.ErrGenerationFailed))
	assert.EqualValues(t, 2, gen.calls.Load(), "open circuit must not reach the provider")
}

func TestQueryRetriesTransientStoreFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := newService(t, testConfig(), service.WithStore(st), service.WithGenerator(&echoGenerator{}))

	id, err := svc.Spawn(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, svc.Add(ctx, id, "x"))

	st.FailOn(store.OpLRange, 1, nil)
	items, err := svc.Query(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, items)

	st.FailOn(store.OpLRange, -1, nil)
	_, err = svc.Query(ctx, id)
	assert.True(t, errors.Is(err, resilience.ErrMaxRetriesExceeded))
	assert.True(t, errors.Is(err, memory.ErrStorageUnavailable))
}

func TestAttachRequireEmpty(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, testConfig(), service.WithGenerator(&echoGenerator{}))

	src, _ := svc.Spawn(ctx, "src")
	dst, _ := svc.Spawn(ctx, "dst")
	require.NoError(t, svc.Add(ctx, src, "moved"))
	require.NoError(t, svc.Add(ctx, dst, "existing"))

	id, err := svc.Detach(ctx, src)
	require.NoError(t, err)

	_, err = svc.Attach(ctx, dst, id, memory.AttachRequireEmpty)
	assert.True(t, errors.Is(err, memory.ErrAgentNotEmpty))

	ok, err := svc.Attach(ctx, dst, id, memory.AttachAppend)
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := svc.Query(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"existing", "moved"}, items)
}

func TestDiscardAndVerify(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, testConfig(), service.WithGenerator(&echoGenerator{}))

	a, _ := svc.Spawn(ctx, "a")
	require.NoError(t, svc.Add(ctx, a, "x"))
	id, err := svc.Detach(ctx, a)
	require.NoError(t, err)

	report, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 1, report.Indexed)

	ok, err := svc.Discard(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Discard(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, testConfig(), service.WithGenerator(&echoGenerator{}))
	path := filepath.Join(t.TempDir(), "memory.txt")

	a, _ := svc.Spawn(ctx, "a")
	b, _ := svc.Spawn(ctx, "b")
	require.NoError(t, svc.Add(ctx, a, "one"))
	require.NoError(t, svc.Add(ctx, a, "two"))
	require.NoError(t, svc.Add(ctx, b, "replaced"))

	require.NoError(t, svc.Save(ctx, a, path))
	n, err := svc.Load(ctx, b, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := svc.Query(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, items)

	_, err = svc.Load(ctx, b, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestRedisBackendWithStoreLocks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ctx := context.Background()
	cfg := testConfig()
	cfg.Store.Provider = config.StoreRedis
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Redis.Namespace = "nan"
	cfg.Memory.LockProvider = config.LockStore

	svc := newService(t, cfg,
		service.WithGenerator(&echoGenerator{}),
		service.WithIDGenerator(memory.IDGeneratorFunc(func() string { return "bundle-1" })),
	)

	a, err := svc.Spawn(ctx, "")
	require.NoError(t, err)
	require.NoError(t, svc.Add(ctx, a, "persisted"))
	assert.True(t, mr.Exists("nan:agent:1:mem"))

	id, err := svc.Detach(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", id)
	assert.False(t, mr.Exists("nan:agent:1:mem"))

	blob, err := mr.Get("nan:pool:bundle-1")
	require.NoError(t, err)
	assert.JSONEq(t, `["persisted"]`, blob)
	assert.False(t, mr.Exists("nan:lock:agent:1"), "store lock released after detach")
}

func TestNewErrors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Store.Provider = "etcd"
	_, err := service.New(ctx, cfg, service.WithLogger(&logger.NoOpLogger{}))
	assert.True(t, errors.Is(err, memory.ErrInvalidConfiguration))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg = testConfig()
	cfg.Store.Provider = config.StoreRedis
	cfg.Redis.URL = "redis://" + addr
	cfg.Redis.DialTimeout = 200 * time.Millisecond
	_, err = service.New(ctx, cfg, service.WithLogger(&logger.NoOpLogger{}))
	assert.True(t, errors.Is(err, memory.ErrStorageUnavailable))
}

func TestNilConfigUsesDefaultsWithInjectedStore(t *testing.T) {
	svc, err := service.New(context.Background(), nil,
		service.WithLogger(&logger.NoOpLogger{}),
		service.WithStore(store.NewInMemoryStore()),
	)
	require.NoError(t, err)
	defer svc.Close(context.Background())

	_, err = svc.Spawn(context.Background(), "x")
	assert.NoError(t, err)
	assert.NotNil(t, svc.Pool())
	assert.NotNil(t, svc.Registry())
}
