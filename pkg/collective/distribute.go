package collective

import (
	"context"
	"fmt"
)

// Distribute replicates a single-source value to every member of the group.
//
// The producer runs only on root and yields a byte buffer whose length is
// unknown to the other members (it typically comes from a connect or open
// call that root alone performed). Replication is a two-phase broadcast:
//
//  1. the buffer length is broadcast so every member can size its receive
//     buffer,
//  2. the buffer content is broadcast,
//
// after which the consumer runs on every non-root member to turn the bytes
// into locally-valid state.
//
// A producer failure on root is broadcast as a negative length, so all
// members return the same error instead of peers blocking on a payload
// that will never arrive.
func Distribute(
	ctx context.Context,
	comm Comm,
	root int,
	produce func(ctx context.Context) ([]byte, error),
	consume func(ctx context.Context, data []byte) error,
) error {
	var payload []byte
	var produceErr error

	if comm.Rank() == root {
		payload, produceErr = produce(ctx)
	}

	length := int64(len(payload))
	if produceErr != nil {
		length = -1
	}

	length, err := comm.BroadcastInt64(ctx, length, root)
	if err != nil {
		return fmt.Errorf("broadcast handle length: %w", err)
	}
	if length < 0 {
		if produceErr != nil {
			return produceErr
		}
		return fmt.Errorf("handle producer failed on rank %d", root)
	}

	if comm.Rank() != root {
		payload = make([]byte, length)
	}

	payload, err = comm.Broadcast(ctx, payload, root)
	if err != nil {
		return fmt.Errorf("broadcast handle payload: %w", err)
	}

	if comm.Rank() != root {
		return consume(ctx, payload)
	}
	return nil
}
