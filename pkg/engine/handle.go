package engine

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// HandleKind distinguishes the resource a global handle refers to.
type HandleKind uint32

const (
	PoolHandle HandleKind = iota
	ContainerHandle
)

func (k HandleKind) String() string {
	switch k {
	case PoolHandle:
		return "pool"
	case ContainerHandle:
		return "container"
	default:
		return "unknown"
	}
}

// GlobalHandle is the transportable representation of a pool or container
// handle. It is produced on one worker, broadcast as opaque bytes, and
// reconstructed into a locally-valid handle on every other worker.
//
// The wire format is XDR: fixed layout, no per-language framing, and the
// same codec the rest of the storage ecosystem speaks. Engines store
// whatever they need to re-resolve the resource in Token/Pool/ID; the
// session layer treats the encoded buffer as opaque.
type GlobalHandle struct {
	// Engine is the producing engine's Name; attach fails on mismatch
	Engine string

	// Kind is the resource type the handle refers to
	Kind HandleKind

	// Pool is the pool identifier
	Pool string

	// ID is the container identifier (empty for pool handles)
	ID string

	// Token is an engine-private attachment token
	Token uint64
}

// EncodeHandle serializes a GlobalHandle into its wire form.
func EncodeHandle(h *GlobalHandle) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, h); err != nil {
		return nil, fmt.Errorf("encode %s handle: %w", h.Kind, err)
	}
	return buf.Bytes(), nil
}

// DecodeHandle deserializes a global handle buffer.
//
// engineName and kind guard against crossed wires: a buffer produced by a
// different engine type or for a different resource is rejected rather
// than attached.
func DecodeHandle(data []byte, engineName string, kind HandleKind) (*GlobalHandle, error) {
	var h GlobalHandle
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &h); err != nil {
		return nil, fmt.Errorf("decode global handle: %w", err)
	}
	if h.Engine != engineName {
		return nil, NewError(ErrInvalidArgument,
			fmt.Sprintf("global handle from engine %q cannot attach to engine %q", h.Engine, engineName))
	}
	if h.Kind != kind {
		return nil, NewError(ErrInvalidArgument,
			fmt.Sprintf("expected %s handle, got %s", kind, h.Kind))
	}
	return &h, nil
}
