package fabric

import (
	"github.com/rs/zerolog/log"
)

// Link states.
const (
	StateConnecting = iota
	StateEstablished
	StateClosed
	StateLost
)

// EventKind tags a connection-manager event delivered on a link.
type EventKind int

const (
	EventEstablished EventKind = iota + 1
	EventClosed
	EventLost
)

// Status reports the outcome of a posted work request.
type Status int

const (
	StatusSuccess Status = iota
	StatusRemoteAccessErr
)

// Opcode identifies the kind of a completed work request.
const (
	OpcodeRead uint8 = iota + 1
)

// Notification reports one completed work request on a link's completion
// stream.
type Notification struct {
	WRID    uint64
	Opcode  uint8
	Status  Status
	ByteLen uint32
}

const (
	defaultQueueDepth = 256
	minQueueDepth     = 16
	listenerBacklog   = 128

	// A link produces at most two lifecycle events over its lifetime
	// (establishment and one terminal). The event queue holds more slots
	// than that, so event pushes can never block or drop.
	eventQueueDepth = 4
)

// Link is one side of an established (or establishing) fabric connection.
// It carries two ordered streams, mirroring the CM event channel /
// completion queue split of RDMA stacks: lifecycle events ride a dedicated
// queue and are never dropped, while work completions share a bounded
// queue subject to ENOBUFS backpressure. All lifecycle transitions and
// pushes happen under the fabric mutex, which keeps each stream ordered.
type Link struct {
	fab    *Fabric
	pd     *ProtectionDomain
	remote *Link

	events        chan EventKind
	completions   chan Notification
	streamsClosed bool

	state       int
	privateData []byte
	released    bool
}

// Events returns the link's ordered lifecycle event stream. The channel is
// closed once the link reaches a terminal state, unblocking any drain.
func (l *Link) Events() <-chan EventKind { return l.events }

// Completions returns the link's ordered work completion stream. It is
// closed together with the event stream; completions buffered at close
// time remain drainable.
func (l *Link) Completions() <-chan Notification { return l.completions }

// PrivateData returns the connect-time payload supplied by the remote side.
func (l *Link) PrivateData() []byte {
	l.fab.mu.Lock()
	defer l.fab.mu.Unlock()

	return l.privateData
}

// pushEvent enqueues a lifecycle event. The queue is sized past the
// maximum number of events a link can produce, so the send cannot fail.
// Caller holds the fabric mutex.
func (l *Link) pushEvent(k EventKind) {
	if l.streamsClosed {
		return
	}

	l.events <- k
}

// pushCompletion enqueues a work completion; reports false when the
// completion queue is full. Caller holds the fabric mutex.
func (l *Link) pushCompletion(n Notification) bool {
	if l.streamsClosed {
		return false
	}

	select {
	case l.completions <- n:
		return true
	default:
		return false
	}
}

// Caller holds the fabric mutex.
func (l *Link) closeStreams() {
	if !l.streamsClosed {
		l.streamsClosed = true
		close(l.events)
		close(l.completions)
	}
}

func newLink(f *Fabric, pd *ProtectionDomain, depth int) *Link {
	if depth < minQueueDepth {
		depth = defaultQueueDepth
	}

	return &Link{
		fab:         f,
		pd:          pd,
		state:       StateConnecting,
		events:      make(chan EventKind, eventQueueDepth),
		completions: make(chan Notification, depth),
	}
}

// Listener accepts incoming fabric connections on an (address, service)
// binding.
type Listener struct {
	fab     *Fabric
	pd      *ProtectionDomain
	key     string
	pending chan *Pending
	done    chan struct{}
	closed  bool
}

// Listen binds a listener to (addr, service). A second binding on the same
// pair fails with EADDRINUSE.
func (f *Fabric) Listen(pd *ProtectionDomain, addr, service string) (*Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pd == nil || pd.deallocED {
		return nil, &Error{Op: "listen", Errno: EINVAL}
	}

	key := listenerKey(addr, service)
	if _, ok := f.listeners[key]; ok {
		return nil, &Error{Op: "listen", Errno: EADDRINUSE}
	}

	l := &Listener{
		fab:     f,
		pd:      pd,
		key:     key,
		pending: make(chan *Pending, listenerBacklog),
		done:    make(chan struct{}),
	}
	f.listeners[key] = l

	log.Debug().Str("bind", key).Msg("Fabric listener bound")

	return l, nil
}

// Next blocks until an incoming connection arrives. After Close it fails
// with EPIPE instead of blocking.
func (l *Listener) Next() (*Pending, error) {
	select {
	case p := <-l.pending:
		return p, nil
	case <-l.done:
		// Prefer pendings still queued at shutdown time.
		select {
		case p := <-l.pending:
			return p, nil
		default:
			return nil, &Error{Op: "next_conn_req", Errno: EPIPE}
		}
	}
}

// Close stops accepting and rejects any queued, undelivered pendings.
func (l *Listener) Close() error {
	f := l.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if l.closed {
		return &Error{Op: "listener_close", Errno: EINVAL}
	}

	l.closed = true
	delete(f.listeners, l.key)
	close(l.done)

	for {
		select {
		case p := <-l.pending:
			p.rejectLocked()
		default:
			return nil
		}
	}
}

// Dialer is an outgoing, not yet connected attempt toward a remote
// (address, service) binding.
type Dialer struct {
	fab  *Fabric
	pd   *ProtectionDomain
	key  string
	used bool
}

// Dial resolves a route toward (addr, service). The connection itself is
// initiated by Connect.
func (f *Fabric) Dial(pd *ProtectionDomain, addr, service string) (*Dialer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pd == nil || pd.deallocED {
		return nil, &Error{Op: "dial", Errno: EINVAL}
	}

	return &Dialer{fab: f, pd: pd, key: listenerKey(addr, service)}, nil
}

// Connect initiates the connection, delivering a pending request to the
// remote listener. The returned link stays in the connecting state until
// the remote side accepts or rejects.
func (d *Dialer) Connect(privateData []byte, queueDepth int) (*Link, error) {
	f := d.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if d.used {
		return nil, &Error{Op: "connect", Errno: EINVAL}
	}

	d.used = true

	lst, ok := f.listeners[d.key]
	if !ok || lst.closed {
		return nil, &Error{Op: "connect", Errno: ECONNREFUSED}
	}

	link := newLink(f, d.pd, queueDepth)
	p := &Pending{fab: f, pd: lst.pd, dialer: link, dialerData: cloneBytes(privateData)}

	select {
	case lst.pending <- p:
	default:
		return nil, &Error{Op: "connect", Errno: ECONNREFUSED}
	}

	return link, nil
}

// Pending is an incoming connection attempt delivered by a listener,
// consumed exactly once by Accept or Reject.
type Pending struct {
	fab        *Fabric
	pd         *ProtectionDomain
	dialer     *Link
	dialerData []byte
	consumed   bool
}

// Accept completes the handshake: both links transition to established and
// observe the establishment event, each carrying the other side's private
// data.
func (p *Pending) Accept(privateData []byte, queueDepth int) (*Link, error) {
	f := p.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if p.consumed {
		return nil, &Error{Op: "accept", Errno: EINVAL}
	}

	p.consumed = true

	link := newLink(f, p.pd, queueDepth)
	link.remote = p.dialer
	p.dialer.remote = link

	link.privateData = p.dialerData
	p.dialer.privateData = cloneBytes(privateData)

	link.state = StateEstablished
	p.dialer.state = StateEstablished

	link.pushEvent(EventEstablished)
	p.dialer.pushEvent(EventEstablished)

	return link, nil
}

// Reject discards the attempt; the dialer observes a lost connection.
func (p *Pending) Reject() error {
	f := p.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if p.consumed {
		return &Error{Op: "reject", Errno: EINVAL}
	}

	p.rejectLocked()

	return nil
}

// Caller holds the fabric mutex.
func (p *Pending) rejectLocked() {
	p.consumed = true
	p.dialer.state = StateLost
	p.dialer.pushEvent(EventLost)
	p.dialer.closeStreams()
}

// Disconnect starts a graceful close. Both sides observe the closed event
// exactly once; disconnecting a link that is not established fails with
// ENOTCONN.
func (l *Link) Disconnect() error {
	f := l.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if l.state != StateEstablished {
		return &Error{Op: "disconnect", Errno: ENOTCONN}
	}

	for _, side := range []*Link{l, l.remote} {
		side.state = StateClosed
		side.pushEvent(EventClosed)
		side.closeStreams()
	}

	return nil
}

// Break simulates an unrecoverable transport fault: both sides observe a
// lost connection.
func (l *Link) Break() {
	f := l.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if l.state != StateEstablished {
		return
	}

	for _, side := range []*Link{l, l.remote} {
		side.state = StateLost
		side.pushEvent(EventLost)
		side.closeStreams()
	}
}

// Release frees the link's resources. Terminal and connecting links can be
// released; an established link must be disconnected or broken first.
func (l *Link) Release() error {
	f := l.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if l.released {
		return &Error{Op: "release", Errno: EINVAL}
	}

	if l.state == StateEstablished {
		return &Error{Op: "release", Errno: EINVAL}
	}

	l.released = true
	l.closeStreams()

	return nil
}

// PostRead executes a remote read: length bytes from the remote region
// identified by rkey, starting at srcOff, into dst. When wantCompletion is
// set a completion is injected into the link's notification stream; a
// remote access fault surfaces as a completion with an error status.
func (l *Link) PostRead(wrID uint64, dst []byte, rkey uint32, srcOff, length int, wantCompletion bool) error {
	f := l.fab

	f.mu.Lock()
	defer f.mu.Unlock()

	if l.state != StateEstablished {
		return &Error{Op: "post_read", Errno: ENOTCONN}
	}

	region, ok := f.regions[rkey]
	if !ok || region.pd != l.remote.pd || region.access&AccessRemoteRead == 0 ||
		srcOff < 0 || length <= 0 || srcOff+length > len(region.buf) {
		if wantCompletion {
			if !l.pushCompletion(Notification{WRID: wrID, Opcode: OpcodeRead, Status: StatusRemoteAccessErr}) {
				return &Error{Op: "post_read", Errno: ENOBUFS}
			}
		}

		return nil
	}

	copy(dst, region.buf[srcOff:srcOff+length])

	if wantCompletion {
		if !l.pushCompletion(Notification{WRID: wrID, Opcode: OpcodeRead, Status: StatusSuccess, ByteLen: uint32(length)}) {
			return &Error{Op: "post_read", Errno: ENOBUFS}
		}
	}

	return nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
