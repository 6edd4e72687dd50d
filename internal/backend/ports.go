package backend

import (
	"fmt"
	"net"
	"strconv"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Min int
	Max int
}

func (r PortRange) Validate() error {
	if r.Min < 1 || r.Max > 65535 || r.Min > r.Max {
		return fmt.Errorf("%w: [%d,%d]", ErrInvalidPortRange, r.Min, r.Max)
	}
	return nil
}

func (r PortRange) Contains(port int) bool {
	return port >= r.Min && port <= r.Max
}

// AllocatePort returns the first port in r that can be bound on loopback.
// The probe listener is closed before returning, so another process may
// still grab the port before the worker binds it; the caller treats that as
// a startup failure.
func AllocatePort(r PortRange) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	for port := r.Min; port <= r.Max; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(protocol.LoopbackHost, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		if err := ln.Close(); err != nil {
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("%w [%d,%d]", ErrNoFreePort, r.Min, r.Max)
}
