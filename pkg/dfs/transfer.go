package dfs

import (
	"context"
	"fmt"
	"time"

	"github.com/dfsio/parfs/pkg/engine"
)

// DefaultMaxRetries bounds how many short transfers the engine tolerates
// before declaring the operation failed.
const DefaultMaxRetries = 10000

// Direction selects between reading from and writing to the namespace.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	if d == DirectionWrite {
		return "write"
	}
	return "read"
}

// TransferRequest describes one byte-range transfer through an open object.
// The requested length is len(Buffer): the transfer succeeds only when
// exactly that many bytes have moved in aggregate across attempts.
type TransferRequest struct {
	// Direction selects read or write
	Direction Direction

	// Buffer is the data source (write) or destination (read)
	Buffer []byte

	// Offset is the file offset the range starts at
	Offset int64
}

// xferState is the explicit state of the bounded-retry machine.
type xferState int

const (
	xferPending xferState = iota
	xferSucceeded
	xferFailed
)

// Xfer transfers the requested byte range, retrying short transfers up to
// the session's retry bound.
//
// Loop invariant: remaining >= 0 and exactly remaining bytes starting at
// the cursor have not yet moved. Writes must complete fully or fail, and a
// write failure aborts immediately; reads may legitimately come back short
// and are retried for the remainder. With single-attempt semantics any
// short transfer is fatal. Exhausting the retry bound fails with
// TooManyRetries.
//
// On success the return value is the original requested length, signaling
// "fully serviced".
func (s *Session) Xfer(ctx context.Context, obj engine.Object, req TransferRequest) (n int64, err error) {
	start := time.Now()
	retries := 0
	defer func() {
		s.metrics.ObserveTransfer(req.Direction, int64(len(req.Buffer)), retries, time.Since(start), err)
	}()

	remaining := len(req.Buffer)
	cursor := 0
	state := xferPending

	for state == xferPending {
		if remaining == 0 {
			state = xferSucceeded
			break
		}

		chunk := req.Buffer[cursor : cursor+remaining]
		offset := req.Offset + int64(cursor)

		var moved int
		if req.Direction == DirectionWrite {
			// Writes are all-or-nothing at the engine: a short write is
			// reported as an error, so any failure here aborts without
			// byte-level retry.
			_, werr := obj.WriteAt(ctx, chunk, offset)
			if werr != nil {
				state = xferFailed
				err = fmt.Errorf("write %d bytes at offset %d: %w", remaining, offset, werr)
				break
			}
			moved = remaining
		} else {
			moved, err = obj.ReadAt(ctx, chunk, offset)
			if err != nil {
				state = xferFailed
				err = fmt.Errorf("read %d bytes at offset %d: %w", remaining, offset, err)
				break
			}
		}

		if moved < remaining {
			if s.singleAttempt {
				state = xferFailed
				err = engine.NewError(engine.ErrIO,
					fmt.Sprintf("short %s of %d/%d bytes with single-attempt transfers", req.Direction, moved, remaining))
				break
			}
			retries++
			if retries > s.maxRetries {
				state = xferFailed
				err = engine.NewError(engine.ErrTooManyRetries,
					fmt.Sprintf("%s retried %d times without completing", req.Direction, s.maxRetries))
				break
			}
		}

		remaining -= moved
		cursor += moved
	}

	if state != xferSucceeded {
		return -1, err
	}
	return int64(len(req.Buffer)), nil
}
