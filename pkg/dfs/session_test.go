package dfs

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfsio/parfs/pkg/collective"
	"github.com/dfsio/parfs/pkg/collective/local"
	"github.com/dfsio/parfs/pkg/engine"
	"github.com/dfsio/parfs/pkg/engine/memory"
)

// ============================================================================
// Test helpers
// ============================================================================

func testConfig() Config {
	return Config{
		Pool:           "testpool",
		ServiceLocator: "node0:10001",
		Container:      "testcont",
	}
}

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()

	store := memory.NewStore()
	require.NoError(t, store.ProvisionPool("testpool"))
	return memory.New(store)
}

// runWorkers drives fn on n goroutines, one per rank, each with its own
// endpoint into a fresh in-process group, and returns the per-rank errors.
func runWorkers(t *testing.T, n int, fn func(rank int, comm collective.Comm) error) []error {
	t.Helper()

	comms, err := local.NewGroup(n)
	require.NoError(t, err)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = fn(rank, comms[rank])
		}(i)
	}
	wg.Wait()
	return errs
}

// hooks carries fault injection and instrumentation shared by all workers'
// views of one wrapped engine.
type hooks struct {
	exclCreates atomic.Int64
	destroyErr  error
}

// hookEngine wraps an engine so tests can count exclusive creates and
// inject container-destroy failures without touching the real backends.
type hookEngine struct {
	inner engine.Engine
	h     *hooks
}

func (e *hookEngine) Name() string                { return e.inner.Name() }
func (e *hookEngine) Init(ctx context.Context) error { return e.inner.Init(ctx) }
func (e *hookEngine) Fini(ctx context.Context) error { return e.inner.Fini(ctx) }

func (e *hookEngine) Connect(ctx context.Context, pool, group, serviceLocator string) (engine.Pool, error) {
	p, err := e.inner.Connect(ctx, pool, group, serviceLocator)
	if err != nil {
		return nil, err
	}
	return &hookPool{inner: p, h: e.h}, nil
}

func (e *hookEngine) AttachPool(ctx context.Context, global []byte) (engine.Pool, error) {
	p, err := e.inner.AttachPool(ctx, global)
	if err != nil {
		return nil, err
	}
	return &hookPool{inner: p, h: e.h}, nil
}

type hookPool struct {
	inner engine.Pool
	h     *hooks
}

func (p *hookPool) Handle(ctx context.Context) ([]byte, error) { return p.inner.Handle(ctx) }
func (p *hookPool) CreateContainer(ctx context.Context, id string) error {
	return p.inner.CreateContainer(ctx, id)
}
func (p *hookPool) Disconnect(ctx context.Context) error { return p.inner.Disconnect(ctx) }

func (p *hookPool) DestroyContainer(ctx context.Context, id string) error {
	if p.h.destroyErr != nil {
		return p.h.destroyErr
	}
	return p.inner.DestroyContainer(ctx, id)
}

func (p *hookPool) OpenContainer(ctx context.Context, id string) (engine.Container, error) {
	c, err := p.inner.OpenContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	return &hookContainer{inner: c, h: p.h}, nil
}

func (p *hookPool) AttachContainer(ctx context.Context, global []byte) (engine.Container, error) {
	c, err := p.inner.AttachContainer(ctx, global)
	if err != nil {
		return nil, err
	}
	return &hookContainer{inner: c, h: p.h}, nil
}

type hookContainer struct {
	inner engine.Container
	h     *hooks
}

func (c *hookContainer) Handle(ctx context.Context) ([]byte, error) { return c.inner.Handle(ctx) }
func (c *hookContainer) Close(ctx context.Context) error            { return c.inner.Close(ctx) }

func (c *hookContainer) Mount(ctx context.Context) (engine.Mount, error) {
	m, err := c.inner.Mount(ctx)
	if err != nil {
		return nil, err
	}
	return &hookMount{Mount: m, h: c.h}, nil
}

type hookMount struct {
	engine.Mount
	h *hooks
}

func (m *hookMount) Open(ctx context.Context, parent engine.Object, name string, mode fs.FileMode, flags int) (engine.Object, error) {
	if flags&os.O_EXCL != 0 {
		m.h.exclCreates.Add(1)
	}
	return m.Mount.Open(ctx, parent, name, mode, flags)
}

// ============================================================================
// Establishment
// ============================================================================

func TestEstablishAssignsRoles(t *testing.T) {
	const workers = 4
	eng := newTestEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	sessions := make([]*Session, workers)

	errs := runWorkers(t, workers, func(rank int, comm collective.Comm) error {
		s, err := Establish(ctx, testConfig(), comm, eng)
		if err != nil {
			return err
		}
		mu.Lock()
		sessions[rank] = s
		mu.Unlock()
		return nil
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}

	assert.Equal(t, RoleCoordinator, sessions[0].Role())
	for rank := 1; rank < workers; rank++ {
		assert.Equal(t, RolePeer, sessions[rank].Role(), "worker %d", rank)
		assert.Equal(t, rank, sessions[rank].Rank())
		assert.Equal(t, workers, sessions[rank].Workers())
	}

	// Every worker holds a usable mounted view of the same namespace.
	require.NoError(t, sessions[0].Mkdir(ctx, "/shared", 0o755))
	for rank := 1; rank < workers; rank++ {
		require.NoError(t, sessions[rank].Access(ctx, "/shared"), "worker %d", rank)
	}
}

func TestEstablishRejectsIncompleteConfig(t *testing.T) {
	eng := newTestEngine(t)

	errs := runWorkers(t, 1, func(rank int, comm collective.Comm) error {
		_, err := Establish(context.Background(), Config{Pool: "testpool"}, comm, eng)
		return err
	})

	var engErr *engine.Error
	require.ErrorAs(t, errs[0], &engErr)
	assert.Equal(t, engine.ErrConfig, engErr.Code)
}

func TestEstablishUnknownPoolFailsEveryWorker(t *testing.T) {
	const workers = 3
	eng := newTestEngine(t)
	cfg := testConfig()
	cfg.Pool = "no-such-pool"

	errs := runWorkers(t, workers, func(rank int, comm collective.Comm) error {
		_, err := Establish(context.Background(), cfg, comm, eng)
		return err
	})

	// The coordinator's connect failure propagates through the handle
	// broadcast, so no worker is left hanging or half-established.
	for rank, err := range errs {
		require.Error(t, err, "worker %d", rank)
	}
}

// ============================================================================
// Teardown
// ============================================================================

func TestTeardownDestroysContainer(t *testing.T) {
	const workers = 3
	eng := newTestEngine(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.Destroy = true

	errs := runWorkers(t, workers, func(rank int, comm collective.Comm) error {
		s, err := Establish(ctx, cfg, comm, eng)
		if err != nil {
			return err
		}
		return s.Teardown(ctx)
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}
}

func TestTeardownDestroyFailurePropagatesToAllWorkers(t *testing.T) {
	const workers = 3
	ctx := context.Background()
	h := &hooks{destroyErr: engine.NewError(engine.ErrIO, "injected destroy failure")}
	eng := &hookEngine{inner: newTestEngine(t), h: h}
	cfg := testConfig()
	cfg.Destroy = true

	errs := runWorkers(t, workers, func(rank int, comm collective.Comm) error {
		s, err := Establish(ctx, cfg, comm, eng)
		if err != nil {
			return err
		}
		return s.Teardown(ctx)
	})

	// The coordinator's destroy status is broadcast, so peers report the
	// failure too instead of silently succeeding.
	for rank, err := range errs {
		require.Error(t, err, "worker %d", rank)
	}
}

func TestTeardownWithoutDestroyKeepsContainer(t *testing.T) {
	const workers = 2
	eng := newTestEngine(t)
	ctx := context.Background()

	errs := runWorkers(t, workers, func(rank int, comm collective.Comm) error {
		s, err := Establish(ctx, testConfig(), comm, eng)
		if err != nil {
			return err
		}
		if rank == 0 {
			if err := s.Mkdir(ctx, "/keep", 0o755); err != nil {
				return err
			}
		}
		if err := s.comm.Barrier(ctx); err != nil {
			return err
		}
		return s.Teardown(ctx)
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}

	// A second run over the same engine finds the container and its
	// contents intact.
	errs = runWorkers(t, workers, func(rank int, comm collective.Comm) error {
		s, err := Establish(ctx, testConfig(), comm, eng)
		if err != nil {
			return err
		}
		if err := s.Access(ctx, "/keep"); err != nil {
			return err
		}
		return s.Teardown(ctx)
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}
}
