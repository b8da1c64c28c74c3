// Package rpma provides low-level support for remote access to persistent
// memory over an RDMA-capable fabric.
//
// The library manages four kinds of resources with explicit lifecycles:
//
//   - Peer: a local context over an RDMA device, created from the device
//     resolved by DeviceForAddr. Registrations and connections are created
//     from a peer, and the peer must outlive all of them.
//   - Memory regions: RegisterMemory pins a local buffer and tags it with
//     usage flags; Descriptor produces an opaque byte descriptor that the
//     remote side reconstructs with MemoryRegionFromDescriptor.
//   - Connection requests and endpoints: NewConnReq initiates an outgoing
//     attempt, Listen binds an Endpoint whose NextConnReq surfaces incoming
//     attempts. A request is consumed exactly once, by Connect or Delete.
//   - Connections: an established Conn carries remote read submissions and
//     one ordered notification stream, drained through NextEvent for
//     lifecycle transitions and NextCompletion for operation completions.
//
// Applications typically exchange memory region descriptors through the
// connect-time private data payload before submitting transfers:
//
//	dev, _ := rpma.DeviceForAddr("192.168.0.1")
//	peer, _ := rpma.NewPeer(dev)
//	req, _ := rpma.NewConnReq(peer, "192.168.0.2", "7204")
//	conn, _ := req.Connect(nil, nil)
//	ev, _ := conn.NextEvent() // rpma.ConnEstablished
//	src, _ := rpma.MemoryRegionFromDescriptor(conn.PrivateData())
//
// Every fallible call returns a typed *Error and additionally records the
// failure in a goroutine-scoped last-error slot readable through
// LastProviderError and LastErrorMessage.
package rpma
