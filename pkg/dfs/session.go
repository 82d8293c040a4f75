package dfs

import (
	"context"
	"fmt"

	"github.com/dfsio/parfs/internal/logger"
	"github.com/dfsio/parfs/pkg/collective"
	"github.com/dfsio/parfs/pkg/engine"
)

// CoordinatorRank is the fixed rank of the worker that performs exclusive
// create/destroy operations and seeds every handle broadcast.
const CoordinatorRank = 0

// Role is a worker's part in the coordination protocols, determined once at
// session establishment and never re-derived.
type Role int

const (
	RoleCoordinator Role = iota
	RolePeer
)

func (r Role) String() string {
	if r == RoleCoordinator {
		return "coordinator"
	}
	return "peer"
}

// Config holds the identifiers needed to establish a shared session.
type Config struct {
	// Pool is the storage pool identifier (required)
	Pool string

	// ServiceLocator addresses the pool's service replicas (required)
	ServiceLocator string

	// Group is the server process group name (optional)
	Group string

	// Container is the container identifier within the pool (required)
	Container string

	// Destroy requests container destruction at teardown
	Destroy bool

	// MaxRetries bounds short-transfer retries; 0 selects DefaultMaxRetries
	MaxRetries int

	// SingleAttempt makes any short transfer fatal instead of retried
	SingleAttempt bool
}

func (c *Config) validate() error {
	if c.Pool == "" || c.ServiceLocator == "" || c.Container == "" {
		return engine.NewError(engine.ErrConfig,
			"pool, service locator, and container identifiers are required")
	}
	return nil
}

// Session is one worker's view of the shared namespace: a pool connection,
// a container handle, and a mounted filesystem view, all locally valid but
// referring to the same remote namespace on every worker. The underlying
// bit patterns differ per worker; equivalence comes from the global-handle
// serialize/attach replication, not from sharing memory.
//
// Exactly one Session exists per worker for the lifetime of a run. It is
// created by Establish, consumed by every operation, and released by
// Teardown. A Session is confined to its worker; it is never shared.
type Session struct {
	cfg  Config
	comm collective.Comm
	eng  engine.Engine
	role Role

	pool  engine.Pool
	cont  engine.Container
	mount engine.Mount

	maxRetries    int
	singleAttempt bool
	metrics       Metrics
}

// Option configures optional Session behavior.
type Option func(*Session)

// WithMetrics attaches a metrics sink to the session.
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Establish creates or attaches to the shared namespace, exactly once per
// run, and replicates the resulting session state to all workers.
//
// The coordinator alone connects to the pool and opens the container,
// creating it first when it does not exist. Both resulting handles are then
// replicated with the two-phase length-then-payload broadcast (the buffer
// length is only known after the coordinator's connect/open call, and every
// worker must size its receive buffer before the payload broadcast).
// Finally every worker, coordinator included, mounts the filesystem view
// from its local container handle.
//
// Any failure on any worker is fatal for the run: the error is returned and
// no partial-session state survives. There is no retry.
func Establish(ctx context.Context, cfg Config, comm collective.Comm, eng engine.Engine, opts ...Option) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:           cfg,
		comm:          comm,
		eng:           eng,
		role:          RolePeer,
		maxRetries:    cfg.MaxRetries,
		singleAttempt: cfg.SingleAttempt,
		metrics:       noopMetrics{},
	}
	if comm.Rank() == CoordinatorRank {
		s.role = RoleCoordinator
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := eng.Init(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s engine runtime: %w", eng.Name(), err)
	}

	// Pool handle: the coordinator connects, every peer attaches.
	err := collective.Distribute(ctx, comm, CoordinatorRank,
		func(ctx context.Context) ([]byte, error) {
			pool, err := eng.Connect(ctx, cfg.Pool, cfg.Group, cfg.ServiceLocator)
			if err != nil {
				return nil, fmt.Errorf("connect to pool %q: %w", cfg.Pool, err)
			}
			s.pool = pool
			return pool.Handle(ctx)
		},
		func(ctx context.Context, data []byte) error {
			pool, err := eng.AttachPool(ctx, data)
			if err != nil {
				return fmt.Errorf("attach pool handle: %w", err)
			}
			s.pool = pool
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	// Container handle: the coordinator opens (creating on first use),
	// every peer attaches.
	err = collective.Distribute(ctx, comm, CoordinatorRank,
		func(ctx context.Context) ([]byte, error) {
			cont, err := s.openOrCreateContainer(ctx)
			if err != nil {
				return nil, err
			}
			s.cont = cont
			return cont.Handle(ctx)
		},
		func(ctx context.Context, data []byte) error {
			cont, err := s.pool.AttachContainer(ctx, data)
			if err != nil {
				return fmt.Errorf("attach container handle: %w", err)
			}
			s.cont = cont
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	mount, err := s.cont.Mount(ctx)
	if err != nil {
		return nil, fmt.Errorf("mount namespace: %w", err)
	}
	s.mount = mount

	logger.Debug("session established: pool=%s container=%s role=%s workers=%d",
		cfg.Pool, cfg.Container, s.role, comm.Size())
	return s, nil
}

func (s *Session) openOrCreateContainer(ctx context.Context) (engine.Container, error) {
	cont, err := s.pool.OpenContainer(ctx, s.cfg.Container)
	if err == nil {
		return cont, nil
	}
	if !engine.IsNotFound(err) {
		return nil, fmt.Errorf("open container %q: %w", s.cfg.Container, err)
	}

	logger.Info("creating container %q", s.cfg.Container)
	if err := s.pool.CreateContainer(ctx, s.cfg.Container); err != nil {
		return nil, fmt.Errorf("create container %q: %w", s.cfg.Container, err)
	}
	cont, err = s.pool.OpenContainer(ctx, s.cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("reopen created container %q: %w", s.cfg.Container, err)
	}
	return cont, nil
}

// Role returns this worker's role in the coordination protocols.
func (s *Session) Role() Role {
	return s.role
}

// Rank returns this worker's rank in the collective group.
func (s *Session) Rank() int {
	return s.comm.Rank()
}

// Workers returns the size of the collective group.
func (s *Session) Workers() int {
	return s.comm.Size()
}

// Teardown releases the session: unmounts the filesystem view, closes the
// container handle, optionally destroys the container, disconnects from the
// pool, and shuts down the engine runtime.
//
// Destruction is performed by the coordinator only; its status is broadcast
// so every worker surfaces the same success or failure outcome. Unmount and
// close failures are fatal locally.
func (s *Session) Teardown(ctx context.Context) error {
	if err := s.mount.Unmount(ctx); err != nil {
		return fmt.Errorf("unmount namespace: %w", err)
	}
	if err := s.cont.Close(ctx); err != nil {
		return fmt.Errorf("close container: %w", err)
	}

	var status int64
	var destroyErr error
	if s.role == RoleCoordinator && s.cfg.Destroy {
		logger.Info("destroying container %q", s.cfg.Container)
		if destroyErr = s.pool.DestroyContainer(ctx, s.cfg.Container); destroyErr != nil {
			status = 1
		}
	}

	status, err := s.comm.BroadcastInt64(ctx, status, CoordinatorRank)
	if err != nil {
		return fmt.Errorf("broadcast destroy status: %w", err)
	}
	if status != 0 {
		if destroyErr != nil {
			return fmt.Errorf("destroy container %q: %w", s.cfg.Container, destroyErr)
		}
		return engine.NewPathError(engine.ErrIO, "container destroy failed on coordinator", s.cfg.Container)
	}

	if err := s.pool.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect pool: %w", err)
	}
	return s.eng.Fini(ctx)
}
