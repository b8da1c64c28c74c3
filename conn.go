package rpma

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pmemlab/rpma/internal/fabric"
	"github.com/pmemlab/rpma/internal/metrics"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateEstablished
	StateClosing
	StateClosed
	StateLost
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateLost:
		return "lost"
	default:
		return "invalid"
	}
}

// ConnEvent is a connection lifecycle transition delivered by NextEvent.
type ConnEvent int

const (
	ConnEstablished ConnEvent = iota + 1
	ConnClosed
	ConnLost
)

func (e ConnEvent) String() string {
	switch e {
	case ConnEstablished:
		return "established"
	case ConnClosed:
		return "closed"
	case ConnLost:
		return "lost"
	default:
		return "invalid"
	}
}

// OpFlags controls completion behavior of a submitted operation.
type OpFlags int

const (
	// OpCompletion requests a completion record for the operation. Without
	// it the operation executes but yields no completion (fire-and-forget).
	OpCompletion OpFlags = 1 << 0
	// OpWait blocks the submitter until the operation's completion has been
	// generated. Implies OpCompletion; the completion is still drained once
	// through NextCompletion.
	OpWait OpFlags = 1 << 1

	opFlagsAll = OpCompletion | OpWait
)

type inflightOp struct {
	opContext any
	waiter    chan struct{}
}

// Conn is an established, bidirectional channel supporting remote read
// submissions and one ordered event/completion stream.
//
// The stream is single-consumer: concurrent callers draining the same
// connection's events or completions must externally serialize. Read may be
// called concurrently with draining but not with itself on the same
// connection.
type Conn struct {
	id   string
	peer *Peer
	link *fabric.Link
	cfg  ConnCfg

	state atomic.Int32

	events      chan ConnEvent
	completions chan *Completion

	mu       sync.Mutex
	nextWRID uint64
	inflight map[uint64]*inflightOp
	pdata    []byte
	deleted  bool
}

func newConn(peer *Peer, link *fabric.Link, cfg *ConnCfg) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		peer:        peer,
		link:        link,
		cfg:         *cfg,
		events:      make(chan ConnEvent, 8),
		completions: make(chan *Completion, cfg.CompletionQueueDepth),
		inflight:    make(map[uint64]*inflightOp),
	}
	peer.retain()

	go c.demux()

	return c
}

// demux is the single drain of the link's event and completion streams,
// forwarding each onto the connection's own channels. Lifecycle events
// ride a dedicated fabric queue, so completion backpressure can delay
// their delivery but never lose them. demux exits once both streams are
// closed, closing the connection's channels so blocked consumers unblock.
func (c *Conn) demux() {
	events := c.link.Events()
	completions := c.link.Completions()

	for events != nil || completions != nil {
		select {
		case k, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			c.routeEvent(k)
		case n, ok := <-completions:
			if !ok {
				completions = nil
				continue
			}

			c.routeCompletion(n)
		}
	}

	close(c.events)
	close(c.completions)

	// Unblock submitters still parked on OpWait after an abrupt teardown.
	c.mu.Lock()
	for wrID, op := range c.inflight {
		if op.waiter != nil {
			close(op.waiter)
		}

		delete(c.inflight, wrID)
	}
	c.mu.Unlock()
}

func (c *Conn) routeCompletion(n fabric.Notification) {
	c.mu.Lock()
	op, ok := c.inflight[n.WRID]
	delete(c.inflight, n.WRID)
	c.mu.Unlock()

	if !ok {
		// Unflagged operations never generate completions; a record with no
		// inflight entry indicates a provider bug, not a caller error.
		log.Warn().Str("conn", c.id).Uint64("wrid", n.WRID).Msg("Dropping completion with no matching operation")

		return
	}

	status := statusFromFabric(n.Status)
	metrics.CompletionsTotal.WithLabelValues(status.String()).Inc()

	// Unblock an OpWait submitter as soon as its completion exists; the
	// record itself may still wait for the consumer to drain.
	if op.waiter != nil {
		close(op.waiter)
	}

	c.completions <- &Completion{OpContext: op.opContext, Op: OpRead, Status: status}
}

func (c *Conn) routeEvent(k fabric.EventKind) {
	var ev ConnEvent

	switch k {
	case fabric.EventEstablished:
		c.mu.Lock()
		c.pdata = c.link.PrivateData()
		c.mu.Unlock()

		c.state.Store(int32(StateEstablished))
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsActive.Inc()

		ev = ConnEstablished
	case fabric.EventClosed:
		c.state.Store(int32(StateClosed))
		metrics.ConnectionsActive.Dec()

		ev = ConnClosed
	case fabric.EventLost:
		prev := ConnState(c.state.Swap(int32(StateLost)))
		if prev == StateEstablished || prev == StateClosing {
			metrics.ConnectionsActive.Dec()
		}

		ev = ConnLost
	default:
		return
	}

	metrics.ConnectionEvents.WithLabelValues(ev.String()).Inc()
	log.Debug().Str("conn", c.id).Stringer("event", ev).Msg("Connection event")

	c.events <- ev
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// NextEvent blocks until the next connection lifecycle transition and
// returns it. Events are delivered in the order they occur: ConnEstablished
// precedes any ConnClosed, and ConnLost is terminal. Once the terminal
// event has been drained, further calls fail instead of blocking.
func (c *Conn) NextEvent() (ConnEvent, error) {
	if c == nil {
		return 0, failInval("connection is nil")
	}

	ev, ok := <-c.events
	if !ok {
		return 0, failProvider("waiting for connection event", &fabric.Error{Op: "next_event", Errno: fabric.ECONNRESET})
	}

	return ev, nil
}

// PrivateData returns the payload supplied by the remote peer at connect
// time, available from the established state on. It returns nil when the
// remote sent none.
func (c *Conn) PrivateData() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pdata
}

// Disconnect initiates a graceful shutdown; both sides subsequently
// observe ConnClosed. Calling it on a connection that is not established
// (including one already disconnecting) surfaces a provider error.
func (c *Conn) Disconnect() error {
	if c == nil {
		return failInval("connection is nil")
	}

	c.state.CompareAndSwap(int32(StateEstablished), int32(StateClosing))

	if err := c.link.Disconnect(); err != nil {
		return failProvider("disconnecting", err)
	}

	log.Debug().Str("conn", c.id).Msg("Connection disconnecting")

	return nil
}

// Delete releases all connection resources. It is valid only once the
// connection has reached the closed or lost state; destroying an
// established connection is a usage error.
func (c *Conn) Delete() error {
	if c == nil {
		return failInval("connection is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deleted {
		return failInval("connection already deleted")
	}

	switch st := c.State(); st {
	case StateClosed, StateLost:
	default:
		return failInval("connection must be closed or lost before delete, state is " + st.String())
	}

	if err := c.link.Release(); err != nil {
		return failProvider("deleting connection", err)
	}

	c.deleted = true
	c.peer.release()

	return nil
}

// Read enqueues a remote read transferring length bytes from the remote
// region src at srcOff into the local region dst at dstOff. opContext is an
// opaque token echoed back in the matching completion. Bounds and
// usage-flag violations are rejected here and never reach the transport.
func (c *Conn) Read(opContext any, dst *MemoryRegionLocal, dstOff int, src *MemoryRegionRemote, srcOff int, length int, flags OpFlags) error {
	if c == nil {
		return failInval("connection is nil")
	}

	if dst == nil {
		return failInval("read destination region is nil")
	}

	if src == nil {
		return failInval("read source region is nil")
	}

	if flags&^opFlagsAll != 0 {
		return failInval("invalid operation flags")
	}

	if length <= 0 || dstOff < 0 || srcOff < 0 {
		return failInval("read length and offsets must be non-negative, length positive")
	}

	if dstOff+length > dst.Size() {
		return failInval("read exceeds destination region bounds")
	}

	if srcOff+length > src.Size() {
		return failInval("read exceeds source region bounds")
	}

	if dst.usage&UsageReadDst == 0 {
		return failInval("destination region not registered for read destination usage")
	}

	if src.usage&UsageReadSrc == 0 {
		return failInval("source region not registered for read source usage")
	}

	dst.mu.Lock()
	dead := dst.deregistered
	dst.mu.Unlock()

	if dead {
		return failInval("destination region already deregistered")
	}

	wantCompletion := flags&(OpCompletion|OpWait) != 0

	var waiter chan struct{}

	c.mu.Lock()
	c.nextWRID++
	wrID := c.nextWRID

	if wantCompletion {
		if flags&OpWait != 0 {
			waiter = make(chan struct{})
		}

		c.inflight[wrID] = &inflightOp{opContext: opContext, waiter: waiter}
	}
	c.mu.Unlock()

	err := c.link.PostRead(wrID, dst.buf[dstOff:dstOff+length], src.rkey, srcOff, length, wantCompletion)
	if err != nil {
		c.mu.Lock()
		delete(c.inflight, wrID)
		c.mu.Unlock()

		return failProvider("posting read", err)
	}

	metrics.ReadsTotal.Inc()
	metrics.ReadBytesTotal.Add(float64(length))

	if waiter != nil {
		<-waiter
	}

	return nil
}

// NextCompletion blocks until the next operation completion and returns
// it. Completions arrive strictly in the order operations finished, exactly
// once per flagged operation. Once the connection is torn down, calls fail
// instead of blocking.
func (c *Conn) NextCompletion() (*Completion, error) {
	if c == nil {
		return nil, failInval("connection is nil")
	}

	cmpl, ok := <-c.completions
	if !ok {
		return nil, failProvider("waiting for completion", &fabric.Error{Op: "next_completion", Errno: fabric.ECONNRESET})
	}

	return cmpl, nil
}
