package netio

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// resolveSockaddr turns a "host:port" string into a unix.Sockaddr,
// preferring IPv4 the way the rest of this engine does (spec.md does
// not require IPv6 support; TCP/UDP4/UDP6 protocol tagging exists for
// the UDP address blob, not for a dual-stack connect/listen path).
func resolveSockaddr(addr string) (unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	var ip net.IP
	if host == "" {
		ip = net.IPv4zero
	} else {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, err
		}
		ip = ips[0]
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("netio: only IPv4 connect/listen targets are supported, got %s", host)
	}
	var sa unix.SockaddrInet4
	sa.Port = port
	copy(sa.Addr[:], ip4)
	return &sa, nil
}

func udpSockaddr(a *net.UDPAddr) (unix.Sockaddr, error) {
	ip4 := a.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("netio: only IPv4 UDP destinations are supported")
	}
	var sa unix.SockaddrInet4
	sa.Port = a.Port
	copy(sa.Addr[:], ip4)
	return &sa, nil
}

func setNonblock(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
	return err
}

func sockaddrToBlob(sa unix.Sockaddr) []byte {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return EncodeAddr(&net.UDPAddr{IP: net.IP(v.Addr[:]), Port: v.Port})
	case *unix.SockaddrInet6:
		return EncodeAddr(&net.UDPAddr{IP: net.IP(v.Addr[:]), Port: v.Port})
	default:
		return nil
	}
}
