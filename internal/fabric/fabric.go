// Package fabric provides the provider layer for the rpma library: an
// in-process RDMA-capable fabric with devices, protection domains,
// registered memory regions and connection-manager rendezvous.
//
// The package mirrors the split found in RDMA stacks between the verbs
// surface (devices, PDs, MRs, work completions) and the connection manager
// (listen/dial/accept/reject). All state lives in a Fabric instance; the
// package-level Default fabric is shared by every peer in the process, so
// two peers created from it can connect to each other without hardware.
//
// Build Tags:
//   - Default: in-process simulated backend (no hardware required)
//   - A cgo-ibverbs backend can be added behind a build tag without
//     changing the exported surface.
package fabric

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Provider errno values surfaced to callers through *Error. The numeric
// values follow the Linux errno table so they read naturally in logs and
// in last-error records.
const (
	EINVAL       = 22
	EPIPE        = 32
	ENOBUFS      = 105
	EADDRINUSE   = 98
	ECONNRESET   = 104
	ENOTCONN     = 107
	ECONNREFUSED = 111
)

var errnoNames = map[int]string{
	EINVAL:       "EINVAL",
	EPIPE:        "EPIPE",
	ENOBUFS:      "ENOBUFS",
	EADDRINUSE:   "EADDRINUSE",
	ECONNRESET:   "ECONNRESET",
	ENOTCONN:     "ENOTCONN",
	ECONNREFUSED: "ECONNREFUSED",
}

// Error is a provider-level failure carrying the failing operation and an
// errno-style code.
type Error struct {
	Op    string
	Errno int
}

func (e *Error) Error() string {
	name, ok := errnoNames[e.Errno]
	if !ok {
		name = fmt.Sprintf("errno %d", e.Errno)
	}

	return fmt.Sprintf("fabric: %s: %s", e.Op, name)
}

// Memory region access flags.
const (
	AccessLocalWrite = 1 << 0
	AccessRemoteRead = 1 << 2
)

// Fabric is a process-wide simulated RDMA fabric.
type Fabric struct {
	mu        sync.Mutex
	devices   map[string]*Device
	listeners map[string]*Listener
	regions   map[uint32]*Region
	nextKey   uint32
	nextDev   int
}

// New creates an empty fabric.
func New() *Fabric {
	return &Fabric{
		devices:   make(map[string]*Device),
		listeners: make(map[string]*Listener),
		regions:   make(map[uint32]*Region),
	}
}

var defaultFabric = New()

// Default returns the process-wide fabric.
func Default() *Fabric {
	return defaultFabric
}

// Device represents an RDMA-capable device bound to a local address.
type Device struct {
	fab  *Fabric
	name string
	addr string
}

// Name returns the device name, e.g. "rxe0".
func (d *Device) Name() string { return d.name }

// Addr returns the address the device was resolved from.
func (d *Device) Addr() string { return d.addr }

// DeviceForAddr resolves the device bound to the given numeric address.
// The simulated fabric binds a fresh soft-RoCE style device the first time
// an address is seen.
func (f *Fabric) DeviceForAddr(addr string) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dev, ok := f.devices[addr]; ok {
		return dev, nil
	}

	dev := &Device{
		fab:  f,
		name: fmt.Sprintf("rxe%d", f.nextDev),
		addr: addr,
	}
	f.nextDev++
	f.devices[addr] = dev

	log.Debug().Str("device", dev.name).Str("addr", addr).Msg("Fabric device bound")

	return dev, nil
}

// ProtectionDomain isolates registered regions and links created from one
// device context.
type ProtectionDomain struct {
	fab       *Fabric
	dev       *Device
	deallocED bool
}

// AllocPD allocates a protection domain on the given device.
func (f *Fabric) AllocPD(dev *Device) (*ProtectionDomain, error) {
	if dev == nil || dev.fab != f {
		return nil, &Error{Op: "alloc_pd", Errno: EINVAL}
	}

	return &ProtectionDomain{fab: f, dev: dev}, nil
}

// DeallocPD releases a protection domain.
func (f *Fabric) DeallocPD(pd *ProtectionDomain) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pd == nil || pd.deallocED {
		return &Error{Op: "dealloc_pd", Errno: EINVAL}
	}

	pd.deallocED = true

	return nil
}

// Region is a registered memory region addressable by rkey.
type Region struct {
	pd     *ProtectionDomain
	buf    []byte
	rkey   uint32
	access int
	dead   bool
}

// RKey returns the remote key identifying the region on the fabric.
func (r *Region) RKey() uint32 { return r.rkey }

// RegisterRegion pins buf under the protection domain and publishes it on
// the fabric under a fresh rkey.
func (pd *ProtectionDomain) RegisterRegion(buf []byte, access int) (*Region, error) {
	if len(buf) == 0 {
		return nil, &Error{Op: "reg_mr", Errno: EINVAL}
	}

	f := pd.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if pd.deallocED {
		return nil, &Error{Op: "reg_mr", Errno: EINVAL}
	}

	f.nextKey++
	r := &Region{
		pd:     pd,
		buf:    buf,
		rkey:   f.nextKey,
		access: access,
	}
	f.regions[r.rkey] = r

	return r, nil
}

// Deregister unpins the region and withdraws its rkey from the fabric.
func (r *Region) Deregister() error {
	f := r.pd.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.dead {
		return &Error{Op: "dereg_mr", Errno: EINVAL}
	}

	r.dead = true
	delete(f.regions, r.rkey)

	return nil
}

func listenerKey(addr, service string) string {
	return addr + ":" + service
}
