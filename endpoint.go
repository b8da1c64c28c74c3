package rpma

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pmemlab/rpma/internal/fabric"
)

// Endpoint is a listening object bound to (address, service) producing
// incoming connection requests. Endpoints are destroyed independently of
// any connections they produced.
type Endpoint struct {
	id       string
	peer     *Peer
	listener *fabric.Listener

	mu       sync.Mutex
	shutdown bool
}

// Listen creates an endpoint and starts listening for incoming connections
// on (addr, service).
func Listen(peer *Peer, addr, service string) (*Endpoint, error) {
	if peer == nil {
		return nil, failInval("peer is nil")
	}

	if net.ParseIP(addr) == nil {
		return nil, failInval("listen address is not a numeric IP address")
	}

	if service == "" {
		return nil, failInval("listen service is empty")
	}

	listener, err := fabric.Default().Listen(peer.pd, addr, service)
	if err != nil {
		return nil, failProvider("listening on "+addr+":"+service, err)
	}

	peer.retain()

	ep := &Endpoint{id: uuid.NewString(), peer: peer, listener: listener}

	log.Info().Str("endpoint", ep.id).Str("addr", addr).Str("service", service).Msg("Endpoint listening")

	return ep, nil
}

// NextConnReq blocks until a remote peer attempts a connection and returns
// a fresh, unconnected request. After Shutdown it fails instead of
// blocking.
func (ep *Endpoint) NextConnReq() (*ConnReq, error) {
	if ep == nil {
		return nil, failInval("endpoint is nil")
	}

	pending, err := ep.listener.Next()
	if err != nil {
		return nil, failProvider("accepting connection request", err)
	}

	return &ConnReq{id: uuid.NewString(), peer: ep.peer, pending: pending}, nil
}

// Shutdown stops accepting new requests and releases the listening
// resource. Requests already delivered by NextConnReq are unaffected.
func (ep *Endpoint) Shutdown() error {
	if ep == nil {
		return failInval("endpoint is nil")
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.shutdown {
		return failInval("endpoint already shut down")
	}

	if err := ep.listener.Close(); err != nil {
		return failProvider("shutting down endpoint", err)
	}

	ep.shutdown = true
	ep.peer.release()

	log.Info().Str("endpoint", ep.id).Msg("Endpoint shut down")

	return nil
}
