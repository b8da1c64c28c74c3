package rpma

import (
	"encoding/binary"
	"sync"

	"github.com/pmemlab/rpma/internal/fabric"
	"github.com/pmemlab/rpma/internal/metrics"
)

// Usage declares which operation roles a memory region may serve.
// Flags combine as a bit set.
type Usage int

const (
	// UsageReadSrc marks a region readable by remote peers (read source).
	UsageReadSrc Usage = 1 << 0
	// UsageReadDst marks a region usable as a local read destination.
	UsageReadDst Usage = 1 << 1

	usageAll = UsageReadSrc | UsageReadDst
)

// Placement hints where the region's backing memory lives.
type Placement int

const (
	PlacementVolatile Placement = iota
	PlacementPersistent
)

// MemoryRegionLocal wraps a pinned, usage-tagged local buffer owned by the
// registering peer.
type MemoryRegionLocal struct {
	peer      *Peer
	region    *fabric.Region
	buf       []byte
	usage     Usage
	placement Placement

	mu           sync.Mutex
	deregistered bool
}

// RegisterMemory creates a local memory handle pinning buf under the peer's
// protection domain.
func (p *Peer) RegisterMemory(buf []byte, usage Usage, placement Placement) (*MemoryRegionLocal, error) {
	if p == nil {
		return nil, failInval("peer is nil")
	}

	if len(buf) == 0 {
		return nil, failInval("memory region size must be greater than zero")
	}

	if usage == 0 || usage&^usageAll != 0 {
		return nil, failInval("invalid memory region usage flags")
	}

	if placement != PlacementVolatile && placement != PlacementPersistent {
		return nil, failInval("invalid memory region placement")
	}

	access := 0
	if usage&UsageReadSrc != 0 {
		access |= fabric.AccessRemoteRead
	}

	if usage&UsageReadDst != 0 {
		access |= fabric.AccessLocalWrite
	}

	region, err := p.pd.RegisterRegion(buf, access)
	if err != nil {
		return nil, failProvider("registering memory region", err)
	}

	p.retain()
	metrics.RegionsTotal.Inc()
	metrics.RegionsActive.Inc()

	return &MemoryRegionLocal{
		peer:      p,
		region:    region,
		buf:       buf,
		usage:     usage,
		placement: placement,
	}, nil
}

// Deregister releases the pin exactly once. A second call on an already
// deregistered handle is a caller contract violation and fails with
// ErrInvalidArgument.
func (mr *MemoryRegionLocal) Deregister() error {
	if mr == nil {
		return failInval("memory region is nil")
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.deregistered {
		return failInval("memory region already deregistered")
	}

	if err := mr.region.Deregister(); err != nil {
		return failProvider("deregistering memory region", err)
	}

	mr.deregistered = true
	mr.peer.release()
	metrics.RegionsActive.Dec()

	return nil
}

// Size returns the region size in bytes.
func (mr *MemoryRegionLocal) Size() int { return len(mr.buf) }

// Usage returns the region's usage flags.
func (mr *MemoryRegionLocal) Usage() Usage { return mr.usage }

// Descriptor wire format, big-endian:
//
//	[size u64][rkey u32][usage u8][placement u8]
const descriptorLen = 14

// Descriptor serializes the region into an opaque descriptor suitable for
// transmission to a remote peer, typically as connect-time private data.
// Descriptors are immutable once produced.
func (mr *MemoryRegionLocal) Descriptor() ([]byte, error) {
	if mr == nil {
		return nil, failInval("memory region is nil")
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if mr.deregistered {
		return nil, failInval("memory region already deregistered")
	}

	desc := make([]byte, descriptorLen)
	binary.BigEndian.PutUint64(desc[0:8], uint64(len(mr.buf)))
	binary.BigEndian.PutUint32(desc[8:12], mr.region.RKey())
	desc[12] = byte(mr.usage)
	desc[13] = byte(mr.placement)

	return desc, nil
}

// MemoryRegionRemote identifies a remote peer's exposed region. It is
// metadata only and carries no local memory backing.
type MemoryRegionRemote struct {
	size      int
	rkey      uint32
	usage     Usage
	placement Placement
}

// MemoryRegionFromDescriptor reconstructs a remote region handle from
// descriptor bytes produced by Descriptor on the remote side.
func MemoryRegionFromDescriptor(desc []byte) (*MemoryRegionRemote, error) {
	if len(desc) != descriptorLen {
		return nil, failInval("malformed memory region descriptor length")
	}

	size := binary.BigEndian.Uint64(desc[0:8])
	if size == 0 {
		return nil, failInval("memory region descriptor reports zero size")
	}

	usage := Usage(desc[12])
	if usage == 0 || usage&^usageAll != 0 {
		return nil, failInval("memory region descriptor reports invalid usage")
	}

	return &MemoryRegionRemote{
		size:      int(size),
		rkey:      binary.BigEndian.Uint32(desc[8:12]),
		usage:     usage,
		placement: Placement(desc[13]),
	}, nil
}

// Size returns the remote region's self-reported size in bytes.
func (mr *MemoryRegionRemote) Size() int { return mr.size }

// Usage returns the remote region's usage flags.
func (mr *MemoryRegionRemote) Usage() Usage { return mr.usage }

// PlacementHint returns the remote region's placement hint.
func (mr *MemoryRegionRemote) PlacementHint() Placement { return mr.placement }
