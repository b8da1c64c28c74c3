package rpma

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pmemlab/rpma/internal/fabric"
)

// maxPrivateDataLen bounds the connect-time private data payload.
const maxPrivateDataLen = 255

// ConnCfg tunes the queues of a connection created from a request. A nil
// config selects the defaults; zero-valued fields are filled from the
// defaults, negative depths are rejected by Connect.
type ConnCfg struct {
	SendQueueDepth       int
	RecvQueueDepth       int
	CompletionQueueDepth int
	ConnectTimeout       time.Duration
}

// DefaultConnCfg returns the default connection configuration.
func DefaultConnCfg() *ConnCfg {
	return &ConnCfg{
		SendQueueDepth:       128,
		RecvQueueDepth:       128,
		CompletionQueueDepth: 256,
		ConnectTimeout:       10 * time.Second,
	}
}

// withDefaults returns a copy with zero-valued fields filled in.
func (c *ConnCfg) withDefaults() *ConnCfg {
	d := DefaultConnCfg()
	out := *c

	if out.SendQueueDepth == 0 {
		out.SendQueueDepth = d.SendQueueDepth
	}

	if out.RecvQueueDepth == 0 {
		out.RecvQueueDepth = d.RecvQueueDepth
	}

	if out.CompletionQueueDepth == 0 {
		out.CompletionQueueDepth = d.CompletionQueueDepth
	}

	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = d.ConnectTimeout
	}

	return &out
}

// ConnReq is a transient, not yet established connection attempt, created
// either by NewConnReq (outgoing) or delivered by an Endpoint (incoming).
// It is consumed exactly once, by Connect or by Delete.
type ConnReq struct {
	id   string
	peer *Peer

	dialer  *fabric.Dialer  // outgoing
	pending *fabric.Pending // incoming

	mu       sync.Mutex
	consumed bool
}

// NewConnReq creates an outgoing connection request toward the remote
// (addr, service) binding.
func NewConnReq(peer *Peer, addr, service string) (*ConnReq, error) {
	if peer == nil {
		return nil, failInval("peer is nil")
	}

	if net.ParseIP(addr) == nil {
		return nil, failInval("connection address is not a numeric IP address")
	}

	if service == "" {
		return nil, failInval("connection service is empty")
	}

	dialer, err := fabric.Default().Dial(peer.pd, addr, service)
	if err != nil {
		return nil, failProvider("initiating connection request", err)
	}

	return &ConnReq{id: uuid.NewString(), peer: peer, dialer: dialer}, nil
}

// Connect consumes the request and yields a connection. For an outgoing
// request the connection starts connecting and reports ConnEstablished once
// the remote side accepts; for an incoming request acceptance is immediate.
// privateData is an opaque payload of at most 255 bytes carried to the
// remote side.
func (r *ConnReq) Connect(cfg *ConnCfg, privateData []byte) (*Conn, error) {
	if r == nil {
		return nil, failInval("connection request is nil")
	}

	if len(privateData) > maxPrivateDataLen {
		return nil, failInval("private data exceeds 255 bytes")
	}

	if cfg == nil {
		cfg = DefaultConnCfg()
	} else {
		if cfg.SendQueueDepth < 0 || cfg.RecvQueueDepth < 0 || cfg.CompletionQueueDepth < 0 {
			return nil, failInval("connection queue depths must not be negative")
		}

		cfg = cfg.withDefaults()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed {
		return nil, failInval("connection request already consumed")
	}

	// The attempt consumes the request whether or not it succeeds; a failed
	// connect cannot be retried on the same request.
	r.consumed = true

	var (
		link *fabric.Link
		err  error
	)

	if r.pending != nil {
		link, err = r.pending.Accept(privateData, cfg.CompletionQueueDepth)
	} else {
		link, err = r.dialer.Connect(privateData, cfg.CompletionQueueDepth)
	}

	if err != nil {
		return nil, failProvider("connecting", err)
	}

	log.Debug().Str("req", r.id).Bool("incoming", r.pending != nil).Msg("Connection request connected")

	return newConn(r.peer, link, cfg), nil
}

// Delete discards a request that will not be connected. Rejecting an
// incoming request surfaces a lost connection to the initiating side.
// The request is consumed either way.
func (r *ConnReq) Delete() error {
	if r == nil {
		return failInval("connection request is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed {
		return failInval("connection request already consumed")
	}

	r.consumed = true

	if r.pending != nil {
		if err := r.pending.Reject(); err != nil {
			return failProvider("rejecting connection request", err)
		}
	}

	log.Debug().Str("req", r.id).Msg("Connection request deleted")

	return nil
}
