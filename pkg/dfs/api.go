package dfs

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/dfsio/parfs/pkg/collective"
	"github.com/dfsio/parfs/pkg/engine"
)

// Version identifies the backend to the benchmark harness.
const Version = "parfs"

// Backend is the harness-facing surface: the full operation table a
// benchmark run drives, with the session lifecycle tied to
// Initialize/Finalize. All state lives in the explicit Session; there is
// no ambient process-wide handle.
type Backend struct {
	session *Session
}

// NewBackend creates an uninitialized backend. Initialize must be called
// before any operation.
func NewBackend() *Backend {
	return &Backend{}
}

// Initialize establishes the shared session. Called exactly once per run.
func (b *Backend) Initialize(ctx context.Context, cfg Config, comm collective.Comm, eng engine.Engine, opts ...Option) error {
	if b.session != nil {
		return engine.NewError(engine.ErrInvalidArgument, "backend already initialized")
	}
	s, err := Establish(ctx, cfg, comm, eng, opts...)
	if err != nil {
		return err
	}
	b.session = s
	return nil
}

// Finalize tears down the shared session. Called exactly once per run.
func (b *Backend) Finalize(ctx context.Context) error {
	if b.session == nil {
		return engine.NewError(engine.ErrInvalidArgument, "backend not initialized")
	}
	err := b.session.Teardown(ctx)
	b.session = nil
	return err
}

// Session exposes the established session, for callers that need role or
// group information.
func (b *Backend) Session() *Session {
	return b.session
}

// Version returns the backend identification string.
func (b *Backend) Version() string {
	return Version
}

func (b *Backend) Create(ctx context.Context, path string, params FileParams) (engine.Object, error) {
	return b.session.Create(ctx, path, params)
}

func (b *Backend) Open(ctx context.Context, path string, params FileParams) (engine.Object, error) {
	return b.session.Open(ctx, path, params)
}

func (b *Backend) Xfer(ctx context.Context, obj engine.Object, req TransferRequest) (int64, error) {
	return b.session.Xfer(ctx, obj, req)
}

func (b *Backend) Close(ctx context.Context, obj engine.Object) error {
	return obj.Close(ctx)
}

func (b *Backend) GetFileSize(ctx context.Context, path string, perProcessFile bool) (int64, error) {
	return b.session.GetFileSize(ctx, path, perProcessFile)
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	return b.session.Delete(ctx, path)
}

func (b *Backend) Mkdir(ctx context.Context, path string, mode fs.FileMode) error {
	return b.session.Mkdir(ctx, path, mode)
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	return b.session.Rmdir(ctx, path)
}

func (b *Backend) Access(ctx context.Context, path string) error {
	return b.session.Access(ctx, path)
}

func (b *Backend) Stat(ctx context.Context, path string) (*engine.ObjectInfo, error) {
	return b.session.Stat(ctx, path)
}

func (b *Backend) Fsync(ctx context.Context) error {
	return b.session.Fsync(ctx)
}

// ============================================================================
// Namespace operations
// ============================================================================

// withParent resolves path and runs fn with the parent directory handle.
func (s *Session) withParent(ctx context.Context, path string, fn func(parent engine.Object, leaf string) error) error {
	rp, err := Resolve(path)
	if err != nil {
		return err
	}

	parent, err := s.mount.Lookup(ctx, rp.Parent)
	if err != nil {
		return fmt.Errorf("lookup parent %q: %w", rp.Parent, err)
	}
	defer parent.Close(ctx)

	return fn(parent, rp.Leaf)
}

// Delete removes the object at path.
func (s *Session) Delete(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Delete", time.Since(start), err)
	}()

	return s.withParent(ctx, path, func(parent engine.Object, leaf string) error {
		if rerr := s.mount.Remove(ctx, parent, leaf); rerr != nil {
			return fmt.Errorf("remove %q: %w", path, rerr)
		}
		return nil
	})
}

// Mkdir creates a directory at path.
func (s *Session) Mkdir(ctx context.Context, path string, mode fs.FileMode) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Mkdir", time.Since(start), err)
	}()

	return s.withParent(ctx, path, func(parent engine.Object, leaf string) error {
		if merr := s.mount.Mkdir(ctx, parent, leaf, mode); merr != nil {
			return fmt.Errorf("mkdir %q: %w", path, merr)
		}
		return nil
	})
}

// Rmdir removes the directory at path.
func (s *Session) Rmdir(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Rmdir", time.Since(start), err)
	}()

	return s.withParent(ctx, path, func(parent engine.Object, leaf string) error {
		if rerr := s.mount.Remove(ctx, parent, leaf); rerr != nil {
			return fmt.Errorf("rmdir %q: %w", path, rerr)
		}
		return nil
	})
}

// Access checks that the object at path exists. A "." leaf collapses to
// the parent directory itself.
func (s *Session) Access(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Access", time.Since(start), err)
	}()

	return s.withParent(ctx, path, func(parent engine.Object, leaf string) error {
		if leaf == "." {
			leaf = ""
		}
		if _, serr := s.mount.Stat(ctx, parent, leaf); serr != nil {
			return fmt.Errorf("access %q: %w", path, serr)
		}
		return nil
	})
}

// Stat returns the attributes of the object at path.
func (s *Session) Stat(ctx context.Context, path string) (info *engine.ObjectInfo, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Stat", time.Since(start), err)
	}()

	err = s.withParent(ctx, path, func(parent engine.Object, leaf string) error {
		var serr error
		info, serr = s.mount.Stat(ctx, parent, leaf)
		if serr != nil {
			return fmt.Errorf("stat %q: %w", path, serr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Fsync flushes outstanding writes through the mounted view.
func (s *Session) Fsync(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Fsync", time.Since(start), err)
	}()

	return s.mount.Sync(ctx)
}
