// Package local provides an in-process implementation of the collective
// substrate for worker groups running as goroutines in one process. It is
// the substrate used by local benchmark runs and by the protocol tests;
// distributed deployments plug in a transport-backed Comm instead.
package local

import (
	"context"
	"fmt"

	"github.com/dfsio/parfs/pkg/collective"
)

// group holds the shared rendezvous state for one worker group.
//
// Collectives are SPMD: every member issues the same sequence of collective
// calls, so at any moment all members are inside the same operation and the
// per-member inboxes never carry messages from two different collectives.
type group struct {
	size int

	// bytesIn[r] delivers broadcast payloads to rank r
	bytesIn []chan []byte

	// intIn[r] delivers scalar broadcast/reduction results to rank r
	intIn []chan int64

	// gather collects one value per member at rank 0; buffered to size so
	// contributors never block on it
	gather chan int64
}

// Comm is one member's endpoint into an in-process group.
type Comm struct {
	g    *group
	rank int
}

var _ collective.Comm = (*Comm)(nil)

// NewGroup creates an in-process worker group of the given size and returns
// one Comm per rank. Each Comm must be used by exactly one goroutine.
func NewGroup(size int) ([]*Comm, error) {
	if size <= 0 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}

	g := &group{
		size:    size,
		bytesIn: make([]chan []byte, size),
		intIn:   make([]chan int64, size),
		gather:  make(chan int64, size),
	}
	for i := range size {
		g.bytesIn[i] = make(chan []byte)
		g.intIn[i] = make(chan int64)
	}

	comms := make([]*Comm, size)
	for i := range size {
		comms[i] = &Comm{g: g, rank: i}
	}
	return comms, nil
}

func (c *Comm) Rank() int { return c.rank }

func (c *Comm) Size() int { return c.g.size }

// Broadcast delivers root's buffer to every member. The root blocks until
// every peer has taken delivery, making the call a synchronization point
// for the whole group.
func (c *Comm) Broadcast(ctx context.Context, buf []byte, root int) ([]byte, error) {
	if root < 0 || root >= c.g.size {
		return nil, fmt.Errorf("broadcast root %d out of range [0,%d)", root, c.g.size)
	}

	if c.rank == root {
		for r := range c.g.size {
			if r == root {
				continue
			}
			select {
			case c.g.bytesIn[r] <- buf:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return buf, nil
	}

	select {
	case v := <-c.g.bytesIn[c.rank]:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Comm) BroadcastInt64(ctx context.Context, v int64, root int) (int64, error) {
	if root < 0 || root >= c.g.size {
		return 0, fmt.Errorf("broadcast root %d out of range [0,%d)", root, c.g.size)
	}

	if c.rank == root {
		for r := range c.g.size {
			if r == root {
				continue
			}
			select {
			case c.g.intIn[r] <- v:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		return v, nil
	}

	select {
	case got := <-c.g.intIn[c.rank]:
		return got, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Barrier blocks until every member has arrived. Implemented as a gather at
// rank 0 followed by a release broadcast.
func (c *Comm) Barrier(ctx context.Context) error {
	_, err := c.AllReduce(ctx, 0, collective.Sum)
	return err
}

func (c *Comm) AllReduce(ctx context.Context, v int64, op collective.ReduceOp) (int64, error) {
	// Contribute. The gather channel is buffered to group size, so this
	// never blocks.
	select {
	case c.g.gather <- v:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	if c.rank != 0 {
		select {
		case res := <-c.g.intIn[c.rank]:
			return res, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	// Rank 0 collects every contribution (including its own), combines,
	// and releases the result to all peers.
	var acc int64
	for i := range c.g.size {
		select {
		case got := <-c.g.gather:
			if i == 0 {
				acc = got
			} else {
				acc = op.Apply(acc, got)
			}
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	for r := 1; r < c.g.size; r++ {
		select {
		case c.g.intIn[r] <- acc:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return acc, nil
}
