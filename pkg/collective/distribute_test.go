package collective_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfsio/parfs/pkg/collective"
	"github.com/dfsio/parfs/pkg/collective/local"
)

func runGroup(t *testing.T, n int, fn func(rank int, comm collective.Comm) error) []error {
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

func TestDistributeReplicatesPayload(t *testing.T) {
	const workers = 4
	ctx := context.Background()
	payload := []byte("serialized-handle-bytes")

	var produceCalls, consumeCalls atomic.Int64
	received := make([][]byte, workers)

	errs := runGroup(t, workers, func(rank int, comm collective.Comm) error {
		return collective.Distribute(ctx, comm, 0,
			func(ctx context.Context) ([]byte, error) {
				produceCalls.Add(1)
				return payload, nil
			},
			func(ctx context.Context, data []byte) error {
				consumeCalls.Add(1)
				received[rank] = data
				return nil
			},
		)
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}

	assert.Equal(t, int64(1), produceCalls.Load(), "only root produces")
	assert.Equal(t, int64(workers-1), consumeCalls.Load(), "every non-root consumes")
	assert.Nil(t, received[0], "root never consumes its own payload")
	for rank := 1; rank < workers; rank++ {
		assert.Equal(t, payload, received[rank], "worker %d", rank)
	}
}

func TestDistributeNonZeroRoot(t *testing.T) {
	const workers = 3
	ctx := context.Background()

	received := make([][]byte, workers)
	errs := runGroup(t, workers, func(rank int, comm collective.Comm) error {
		return collective.Distribute(ctx, comm, 2,
			func(ctx context.Context) ([]byte, error) {
				return []byte{byte(rank)}, nil
			},
			func(ctx context.Context, data []byte) error {
				received[rank] = data
				return nil
			},
		)
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}

	assert.Equal(t, []byte{2}, received[0])
	assert.Equal(t, []byte{2}, received[1])
	assert.Nil(t, received[2])
}

func TestDistributeProducerFailure(t *testing.T) {
	const workers = 3
	ctx := context.Background()
	injected := errors.New("connect failed")

	var consumeCalls atomic.Int64
	errs := runGroup(t, workers, func(rank int, comm collective.Comm) error {
		return collective.Distribute(ctx, comm, 0,
			func(ctx context.Context) ([]byte, error) {
				return nil, injected
			},
			func(ctx context.Context, data []byte) error {
				consumeCalls.Add(1)
				return nil
			},
		)
	})

	// The failure is replicated as a negative length, so every member
	// returns an error and nobody blocks waiting for a payload.
	require.ErrorIs(t, errs[0], injected)
	for rank := 1; rank < workers; rank++ {
		require.Error(t, errs[rank], "worker %d", rank)
	}
	assert.Equal(t, int64(0), consumeCalls.Load())
}

func TestDistributeEmptyPayload(t *testing.T) {
	const workers = 2
	ctx := context.Background()

	errs := runGroup(t, workers, func(rank int, comm collective.Comm) error {
		return collective.Distribute(ctx, comm, 0,
			func(ctx context.Context) ([]byte, error) {
				return []byte{}, nil
			},
			func(ctx context.Context, data []byte) error {
				assert.Empty(t, data)
				return nil
			},
		)
	})
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}
}

func TestDistributeConsumerError(t *testing.T) {
	ctx := context.Background()
	injected := errors.New("attach failed")

	errs := runGroup(t, 2, func(rank int, comm collective.Comm) error {
		return collective.Distribute(ctx, comm, 0,
			func(ctx context.Context) ([]byte, error) {
				return []byte("handle"), nil
			},
			func(ctx context.Context, data []byte) error {
				return injected
			},
		)
	})

	assert.NoError(t, errs[0], "root does not consume")
	require.ErrorIs(t, errs[1], injected)
}

func TestReduceOpApply(t *testing.T) {
	assert.Equal(t, int64(7), collective.Sum.Apply(3, 4))
	assert.Equal(t, int64(3), collective.Min.Apply(3, 4))
	assert.Equal(t, int64(4), collective.Max.Apply(3, 4))
	assert.Equal(t, "sum", collective.Sum.String())
	assert.Equal(t, "min", collective.Min.String())
	assert.Equal(t, "max", collective.Max.String())
}
