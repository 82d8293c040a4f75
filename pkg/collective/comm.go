package collective

import "context"

// ============================================================================
// Comm Interface
// ============================================================================

// Comm is the collective-communication substrate shared by a fixed group of
// N cooperating workers (single-program, multiple-data).
//
// Every method is a collective operation: all members of the group must
// invoke it together, in the same order, and it completes only once all
// have participated. A delayed worker stalls all peers; there is no timeout
// on collective calls. The context parameter is plumbed for implementations
// backed by cancellable transports, but the core never cancels a collective
// once issued.
//
// Rank assignment is fixed for the lifetime of the group. Rank 0 is the
// conventional coordinator.
type Comm interface {
	// Rank returns this worker's rank in [0, Size).
	Rank() int

	// Size returns the number of workers in the group.
	Size() int

	// Broadcast delivers root's buffer to every member. The root passes the
	// payload; other members pass nil and receive the payload. All members
	// must already agree on the buffer length (see Distribute for the
	// variable-length case).
	Broadcast(ctx context.Context, buf []byte, root int) ([]byte, error)

	// BroadcastInt64 delivers root's value to every member.
	BroadcastInt64(ctx context.Context, v int64, root int) (int64, error)

	// Barrier blocks until every member has arrived.
	Barrier(ctx context.Context) error

	// AllReduce combines every member's value with op and delivers the
	// result to all members.
	AllReduce(ctx context.Context, v int64, op ReduceOp) (int64, error)
}

// ReduceOp selects the combining function for AllReduce.
type ReduceOp int

const (
	Sum ReduceOp = iota
	Min
	Max
)

func (op ReduceOp) String() string {
	switch op {
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return "unknown"
	}
}

// Apply combines two values under op.
func (op ReduceOp) Apply(a, b int64) int64 {
	switch op {
	case Sum:
		return a + b
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	default:
		return a
	}
}
