package dfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dfsio/parfs/pkg/engine"
)

// FileParams controls create/open behavior for one logical file operation.
type FileParams struct {
	// Mode holds the permission bits applied on create
	Mode fs.FileMode

	// PerProcessFile selects the mode where each worker targets its own
	// distinct file instead of all workers sharing one
	PerProcessFile bool
}

// Create creates and opens a file, ordering creation across workers.
//
// With per-process files every worker independently creates its own target
// with exclusive-create semantics; no coordination is needed. With a shared
// file the coordinator alone performs the exclusive create, its status is
// replicated to all workers, and only then do peers open the now-existing
// file non-exclusively. This guarantees exactly one create call reaches the
// engine, and a peer never races the creator or opens a file whose creation
// already failed: a peer receiving a failure status aborts with the
// coordinator's outcome instead of discovering it through an incidental
// NotFound.
//
// Lookup and open failures are fatal for the run, matching the policy that
// session-level failures are unrecoverable mid-benchmark.
func (s *Session) Create(ctx context.Context, path string, params FileParams) (obj engine.Object, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Create", time.Since(start), err)
	}()

	rp, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	parent, err := s.mount.Lookup(ctx, rp.Parent)
	if err != nil {
		return nil, fmt.Errorf("lookup parent %q: %w", rp.Parent, err)
	}
	defer parent.Close(ctx)

	if params.PerProcessFile {
		obj, err = s.mount.Open(ctx, parent, rp.Leaf, params.Mode, os.O_RDWR|os.O_CREATE|os.O_EXCL)
		if err != nil {
			return nil, fmt.Errorf("create %q: %w", path, err)
		}
		return obj, nil
	}

	// Shared file: exactly one creator, peers wait for its status.
	var createErr error
	if s.role == RoleCoordinator {
		obj, createErr = s.mount.Open(ctx, parent, rp.Leaf, params.Mode, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	}

	var status int64
	if createErr != nil {
		status = 1
	}
	status, err = s.comm.BroadcastInt64(ctx, status, CoordinatorRank)
	if err != nil {
		return nil, fmt.Errorf("broadcast create status: %w", err)
	}

	if s.role == RoleCoordinator {
		if createErr != nil {
			return nil, fmt.Errorf("create %q: %w", path, createErr)
		}
		return obj, nil
	}

	if status != 0 {
		return nil, engine.NewPathError(engine.ErrIO, "create failed on coordinator", path)
	}
	obj, err = s.mount.Open(ctx, parent, rp.Leaf, params.Mode, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open freshly created %q: %w", path, err)
	}
	return obj, nil
}

// Open opens an existing file. No coordination is needed: existence was
// settled at create time.
func (s *Session) Open(ctx context.Context, path string, params FileParams) (obj engine.Object, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("Open", time.Since(start), err)
	}()

	rp, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	parent, err := s.mount.Lookup(ctx, rp.Parent)
	if err != nil {
		return nil, fmt.Errorf("lookup parent %q: %w", rp.Parent, err)
	}
	defer parent.Close(ctx)

	obj, err = s.mount.Open(ctx, parent, rp.Leaf, params.Mode, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return obj, nil
}
