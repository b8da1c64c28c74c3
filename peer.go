package rpma

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/pmemlab/rpma/internal/fabric"
)

// Peer owns a device context and a protection domain from which memory
// registrations and connections are created. A peer must outlive every
// region, endpoint and connection derived from it; Delete enforces this.
//
// Peer carries no internal synchronization for registration calls;
// concurrent RegisterMemory against the same peer requires external mutual
// exclusion.
type Peer struct {
	dev *Device
	pd  *fabric.ProtectionDomain

	refs    atomic.Int64
	mu      sync.Mutex
	deleted bool
}

// NewPeer creates a peer object over the given device.
func NewPeer(dev *Device) (*Peer, error) {
	if dev == nil {
		return nil, failInval("device is nil")
	}

	pd, err := fabric.Default().AllocPD(dev.fd)
	if err != nil {
		return nil, failProvider("allocating protection domain", err)
	}

	log.Debug().Str("device", dev.Name()).Msg("Peer created")

	return &Peer{dev: dev, pd: pd}, nil
}

// Delete destroys the peer. It fails, leaving the handle intact, when
// resources derived from the peer are still alive or when provider-level
// teardown of the protection domain fails.
func (p *Peer) Delete() error {
	if p == nil {
		return failInval("peer is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleted {
		return failInval("peer already deleted")
	}

	if n := p.refs.Load(); n != 0 {
		return failInval("peer still owns live resources")
	}

	if err := fabric.Default().DeallocPD(p.pd); err != nil {
		return failProvider("deallocating protection domain", err)
	}

	p.deleted = true

	return nil
}

func (p *Peer) retain()  { p.refs.Add(1) }
func (p *Peer) release() { p.refs.Add(-1) }
