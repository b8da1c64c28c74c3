package rpma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()

	dev, err := DeviceForAddr("127.0.0.1")
	require.NoError(t, err)

	peer, err := NewPeer(dev)
	require.NoError(t, err)

	return peer
}

func TestRegisterMemoryValidation(t *testing.T) {
	peer := newTestPeer(t)

	tests := []struct {
		name      string
		buf       []byte
		usage     Usage
		placement Placement
	}{
		{name: "zero size", buf: nil, usage: UsageReadSrc, placement: PlacementVolatile},
		{name: "zero usage", buf: make([]byte, 64), usage: 0, placement: PlacementVolatile},
		{name: "unknown usage bits", buf: make([]byte, 64), usage: Usage(1 << 7), placement: PlacementVolatile},
		{name: "invalid placement", buf: make([]byte, 64), usage: UsageReadSrc, placement: Placement(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, err := peer.RegisterMemory(tt.buf, tt.usage, tt.placement)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Nil(t, mr)
		})
	}
}

func TestRegisterDeregisterLeavesNoResidual(t *testing.T) {
	peer := newTestPeer(t)

	for _, usage := range []Usage{UsageReadSrc, UsageReadDst, UsageReadSrc | UsageReadDst} {
		mr, err := peer.RegisterMemory(make([]byte, 4096), usage, PlacementPersistent)
		require.NoError(t, err)
		assert.Equal(t, 4096, mr.Size())
		assert.Equal(t, usage, mr.Usage())

		require.NoError(t, mr.Deregister())
	}

	// Every registration released its peer reference.
	require.NoError(t, peer.Delete())
}

func TestDeregisterTwice(t *testing.T) {
	peer := newTestPeer(t)

	mr, err := peer.RegisterMemory(make([]byte, 64), UsageReadDst, PlacementVolatile)
	require.NoError(t, err)

	require.NoError(t, mr.Deregister())

	err = mr.Deregister()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDescriptorRoundTrip(t *testing.T) {
	peer := newTestPeer(t)

	mr, err := peer.RegisterMemory(make([]byte, 4096), UsageReadSrc, PlacementPersistent)
	require.NoError(t, err)

	desc, err := mr.Descriptor()
	require.NoError(t, err)
	require.Len(t, desc, descriptorLen)

	// Descriptors are immutable and safe to transmit verbatim.
	again, err := mr.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, desc, again)

	remote, err := MemoryRegionFromDescriptor(desc)
	require.NoError(t, err)
	assert.Equal(t, 4096, remote.Size())
	assert.Equal(t, UsageReadSrc, remote.Usage())
	assert.Equal(t, PlacementPersistent, remote.PlacementHint())
}

func TestDescriptorAfterDeregister(t *testing.T) {
	peer := newTestPeer(t)

	mr, err := peer.RegisterMemory(make([]byte, 64), UsageReadSrc, PlacementVolatile)
	require.NoError(t, err)
	require.NoError(t, mr.Deregister())

	_, err = mr.Descriptor()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryRegionFromDescriptorMalformed(t *testing.T) {
	tests := []struct {
		name string
		desc []byte
	}{
		{name: "nil", desc: nil},
		{name: "short", desc: make([]byte, descriptorLen-1)},
		{name: "long", desc: make([]byte, descriptorLen+1)},
		{name: "zero size", desc: func() []byte {
			d := make([]byte, descriptorLen)
			d[12] = byte(UsageReadSrc)

			return d
		}()},
		{name: "zero usage", desc: func() []byte {
			d := make([]byte, descriptorLen)
			d[7] = 1 // size = 1

			return d
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote, err := MemoryRegionFromDescriptor(tt.desc)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Nil(t, remote)
		})
	}
}
