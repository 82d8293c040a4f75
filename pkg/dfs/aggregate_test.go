package dfs

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfsio/parfs/pkg/collective"
	"github.com/dfsio/parfs/pkg/engine"
)

// sizeMount is a minimal mounted view where every lookup yields an object
// of a fixed size, letting each worker in a test observe a different value.
type sizeMount struct {
	size int64
	err  error
}

var _ engine.Mount = sizeMount{}

func (m sizeMount) Lookup(ctx context.Context, path string) (engine.Object, error) {
	if m.err != nil {
		return nil, m.err
	}
	return sizeObject{size: m.size}, nil
}

func (m sizeMount) Open(ctx context.Context, parent engine.Object, name string, mode fs.FileMode, flags int) (engine.Object, error) {
	return nil, engine.NewError(engine.ErrNotSupported, "not implemented")
}

func (m sizeMount) Remove(ctx context.Context, parent engine.Object, name string) error {
	return engine.NewError(engine.ErrNotSupported, "not implemented")
}

func (m sizeMount) Mkdir(ctx context.Context, parent engine.Object, name string, mode fs.FileMode) error {
	return engine.NewError(engine.ErrNotSupported, "not implemented")
}

func (m sizeMount) Stat(ctx context.Context, parent engine.Object, name string) (*engine.ObjectInfo, error) {
	return nil, engine.NewError(engine.ErrNotSupported, "not implemented")
}

func (m sizeMount) Sync(ctx context.Context) error    { return nil }
func (m sizeMount) Unmount(ctx context.Context) error { return nil }

type sizeObject struct {
	size int64
}

func (o sizeObject) ReadAt(ctx context.Context, p []byte, off int64) (int, error)  { return 0, nil }
func (o sizeObject) WriteAt(ctx context.Context, p []byte, off int64) (int, error) { return 0, nil }
func (o sizeObject) Size(ctx context.Context) (int64, error)                       { return o.size, nil }
func (o sizeObject) Close(ctx context.Context) error                               { return nil }

func sizeSession(comm collective.Comm, observed int64) *Session {
	role := RolePeer
	if comm.Rank() == CoordinatorRank {
		role = RoleCoordinator
	}
	return &Session{
		comm:    comm,
		role:    role,
		mount:   sizeMount{size: observed},
		metrics: noopMetrics{},
	}
}

func TestGetFileSizePerProcessSums(t *testing.T) {
	ctx := context.Background()
	observed := []int64{10, 20, 30}
	results := make([]int64, len(observed))

	errs := runWorkers(t, len(observed), func(rank int, comm collective.Comm) error {
		s := sizeSession(comm, observed[rank])
		size, err := s.GetFileSize(ctx, "/data", true)
		results[rank] = size
		return err
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}

	for rank, size := range results {
		assert.Equal(t, int64(60), size, "worker %d", rank)
	}
}

func TestGetFileSizeSharedConsistent(t *testing.T) {
	ctx := context.Background()
	const workers = 3
	results := make([]int64, workers)

	errs := runWorkers(t, workers, func(rank int, comm collective.Comm) error {
		s := sizeSession(comm, 100)
		size, err := s.GetFileSize(ctx, "/data", false)
		results[rank] = size
		return err
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}

	for rank, size := range results {
		assert.Equal(t, int64(100), size, "worker %d", rank)
	}
}

func TestGetFileSizeSharedInconsistentReportsMin(t *testing.T) {
	ctx := context.Background()
	observed := []int64{100, 100, 90}
	results := make([]int64, len(observed))

	errs := runWorkers(t, len(observed), func(rank int, comm collective.Comm) error {
		s := sizeSession(comm, observed[rank])
		size, err := s.GetFileSize(ctx, "/data", false)
		results[rank] = size
		return err
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}

	// Min is the conservative choice and, unlike the raw local values, it
	// is the same on every worker.
	for rank, size := range results {
		assert.Equal(t, int64(90), size, "worker %d", rank)
	}
}

func TestGetFileSizeLookupFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()

	errs := runWorkers(t, 2, func(rank int, comm collective.Comm) error {
		s := &Session{
			comm:    comm,
			role:    RolePeer,
			mount:   sizeMount{err: engine.NewPathError(engine.ErrNotFound, "no such object", "/data")},
			metrics: noopMetrics{},
		}
		size, err := s.GetFileSize(ctx, "/data", true)
		assert.Equal(t, int64(SizeSentinel), size, "worker %d", rank)
		return err
	})

	for rank, err := range errs {
		require.Error(t, err, "worker %d", rank)
		assert.True(t, engine.IsNotFound(err), "worker %d", rank)
	}
}
