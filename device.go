package rpma

import (
	"net"

	"github.com/pmemlab/rpma/internal/fabric"
)

// Device is an RDMA-capable device context resolved from a local address.
type Device struct {
	fd *fabric.Device
}

// Name returns the device name.
func (d *Device) Name() string { return d.fd.Name() }

// DeviceForAddr obtains an RDMA device context by the given numeric IPv4 or
// IPv6 address, using reliable connection-oriented semantics.
func DeviceForAddr(addr string) (*Device, error) {
	if addr == "" {
		return nil, failInval("device address is empty")
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, failInval("device address is not a numeric IP address: " + addr)
	}

	fd, err := fabric.Default().DeviceForAddr(ip.String())
	if err != nil {
		return nil, failProvider("resolving device for "+addr, err)
	}

	return &Device{fd: fd}, nil
}
