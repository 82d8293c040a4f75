package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRoundTrip(t *testing.T) {
	in := &GlobalHandle{
		Engine: "memory",
		Kind:   ContainerHandle,
		Pool:   "pool0",
		ID:     "cont0",
		Token:  0xdeadbeef,
	}

	data, err := EncodeHandle(in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	out, err := DecodeHandle(data, "memory", ContainerHandle)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeHandleRejectsWrongEngine(t *testing.T) {
	data, err := EncodeHandle(&GlobalHandle{Engine: "memory", Kind: PoolHandle, Pool: "pool0"})
	require.NoError(t, err)

	_, err = DecodeHandle(data, "badger", PoolHandle)
	require.Error(t, err)

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, ErrInvalidArgument, engErr.Code)
}

func TestDecodeHandleRejectsWrongKind(t *testing.T) {
	data, err := EncodeHandle(&GlobalHandle{Engine: "memory", Kind: PoolHandle, Pool: "pool0"})
	require.NoError(t, err)

	_, err = DecodeHandle(data, "memory", ContainerHandle)
	require.Error(t, err)
}

func TestDecodeHandleRejectsGarbage(t *testing.T) {
	_, err := DecodeHandle([]byte{0x01, 0x02}, "memory", PoolHandle)
	require.Error(t, err)
}
