package utils

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
)

var (
	ErrPort = errors.New("invalid port")
)

// ListenUDPInPortRange binds laddr. When laddr carries no port, the first free
// port of [portMin, portMax] is taken, probing from a random offset so that
// several processes spread over the range.
func ListenUDPInPortRange(portMin, portMax int, laddr *net.UDPAddr) (*net.UDPConn, error) {
	if laddr.Port != 0 || (portMin == 0 && portMax == 0) {
		return net.ListenUDP("udp", laddr)
	}
	if portMin <= 0 {
		portMin = 1
	}
	if portMax <= 0 || portMax > 0xFFFF {
		portMax = 0xFFFF
	}
	if portMin > portMax {
		return nil, ErrPort
	}
	n := portMax - portMin + 1
	offset := rand.Intn(n)
	for i := 0; i < n; i++ {
		port := portMin + (offset+i)%n
		if conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: laddr.IP, Port: port}); err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("%w: no free port in %d-%d", ErrPort, portMin, portMax)
}
