package local_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfsio/parfs/pkg/collective"
	"github.com/dfsio/parfs/pkg/collective/local"
)

func runGroup(t *testing.T, n int, fn func(rank int, comm *local.Comm) error) []error {
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

func requireAll(t *testing.T, errs []error) {
	t.Helper()
	for rank, err := range errs {
		require.NoError(t, err, "worker %d", rank)
	}
}

func TestNewGroupRejectsNonPositiveSize(t *testing.T) {
	_, err := local.NewGroup(0)
	require.Error(t, err)
	_, err = local.NewGroup(-1)
	require.Error(t, err)
}

func TestRankAndSize(t *testing.T) {
	comms, err := local.NewGroup(3)
	require.NoError(t, err)

	for i, c := range comms {
		assert.Equal(t, i, c.Rank())
		assert.Equal(t, 3, c.Size())
	}
}

func TestBroadcast(t *testing.T) {
	const workers = 4
	ctx := context.Background()
	payload := []byte("broadcast me")

	got := make([][]byte, workers)
	errs := runGroup(t, workers, func(rank int, comm *local.Comm) error {
		var buf []byte
		if rank == 0 {
			buf = payload
		}
		out, err := comm.Broadcast(ctx, buf, 0)
		got[rank] = out
		return err
	})
	requireAll(t, errs)

	for rank := range workers {
		assert.Equal(t, payload, got[rank], "worker %d", rank)
	}
}

func TestBroadcastInvalidRoot(t *testing.T) {
	comms, err := local.NewGroup(1)
	require.NoError(t, err)

	_, err = comms[0].Broadcast(context.Background(), nil, 5)
	require.Error(t, err)
	_, err = comms[0].BroadcastInt64(context.Background(), 0, -1)
	require.Error(t, err)
}

func TestBroadcastInt64FromNonZeroRoot(t *testing.T) {
	const workers = 3
	ctx := context.Background()

	got := make([]int64, workers)
	errs := runGroup(t, workers, func(rank int, comm *local.Comm) error {
		v := int64(0)
		if rank == 1 {
			v = 42
		}
		out, err := comm.BroadcastInt64(ctx, v, 1)
		got[rank] = out
		return err
	})
	requireAll(t, errs)

	for rank := range workers {
		assert.Equal(t, int64(42), got[rank], "worker %d", rank)
	}
}

func TestBarrierSynchronizes(t *testing.T) {
	const workers = 5
	ctx := context.Background()

	var arrived atomic.Int64
	after := make([]int64, workers)
	errs := runGroup(t, workers, func(rank int, comm *local.Comm) error {
		arrived.Add(1)
		if err := comm.Barrier(ctx); err != nil {
			return err
		}
		after[rank] = arrived.Load()
		return nil
	})
	requireAll(t, errs)

	// Nobody passes the barrier before everyone has arrived.
	for rank := range workers {
		assert.Equal(t, int64(workers), after[rank], "worker %d", rank)
	}
}

func TestAllReduce(t *testing.T) {
	const workers = 4
	ctx := context.Background()

	tests := []struct {
		name string
		op   collective.ReduceOp
		want int64
	}{
		{"sum", collective.Sum, 1 + 2 + 3 + 4},
		{"min", collective.Min, 1},
		{"max", collective.Max, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]int64, workers)
			errs := runGroup(t, workers, func(rank int, comm *local.Comm) error {
				out, err := comm.AllReduce(ctx, int64(rank+1), tt.op)
				got[rank] = out
				return err
			})
			requireAll(t, errs)

			for rank := range workers {
				assert.Equal(t, tt.want, got[rank], "worker %d", rank)
			}
		})
	}
}

// Back-to-back collectives over one group must not bleed state into each
// other.
func TestSequentialCollectives(t *testing.T) {
	const workers = 3
	ctx := context.Background()

	errs := runGroup(t, workers, func(rank int, comm *local.Comm) error {
		for round := int64(0); round < 10; round++ {
			sum, err := comm.AllReduce(ctx, round, collective.Sum)
			if err != nil {
				return err
			}
			assert.Equal(t, round*workers, sum, "worker %d round %d", rank, round)

			v, err := comm.BroadcastInt64(ctx, round, 0)
			if err != nil {
				return err
			}
			assert.Equal(t, round, v, "worker %d round %d", rank, round)

			if err := comm.Barrier(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	requireAll(t, errs)
}

func TestBroadcastContextCancellation(t *testing.T) {
	comms, err := local.NewGroup(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With no peer participating, the cancelled context is the only way
	// out of the collective.
	_, err = comms[0].Broadcast(ctx, []byte("stuck"), 0)
	require.ErrorIs(t, err, context.Canceled)
}
