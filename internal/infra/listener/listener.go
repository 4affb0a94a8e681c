//go:build unix

// Package listener creates the single listening endpoint shared by every
// worker of the process.
package listener

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen queue length used when none is configured.
const DefaultBacklog = 1024

// ErrBind is returned when the endpoint cannot be created. It is fatal at
// startup and never retried.
var ErrBind = errors.New("failed to bind listening endpoint")

// Bind creates a TCP socket with SO_REUSEADDR, binds it to host:port, puts it
// in listening mode with the given backlog and switches it to non-blocking
// mode. The returned listener is safe to Accept from many goroutines.
func Bind(host string, port, backlog int) (net.Listener, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrBind, port)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	sa, family, err := sockaddr(host, port)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrBind, err)
	}

	if err := setup(fd, sa, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp:%s", net.JoinHostPort(host, strconv.Itoa(port))))
	defer f.Close()

	// FileListener dups the descriptor, so f can be closed right away.
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}

	return ln, nil
}

func setup(fd int, sa unix.Sockaddr, backlog int) error {
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set non-blocking: %w", err)
	}
	return nil
}

func sockaddr(host string, port int) (unix.Sockaddr, int, error) {
	if host == "" {
		host = "0.0.0.0"
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil {
			return nil, 0, fmt.Errorf("resolve host %q: %w", host, lookupErr)
		}
		var ok bool
		addr, ok = pickAddr(ips)
		if !ok {
			return nil, 0, fmt.Errorf("resolve host %q: no usable address", host)
		}
	}
	addr = addr.Unmap()

	if addr.Is4() {
		return &unix.SockaddrInet4{Port: port, Addr: addr.As4()}, unix.AF_INET, nil
	}
	return &unix.SockaddrInet6{Port: port, Addr: addr.As16()}, unix.AF_INET6, nil
}

// pickAddr returns the first IPv4 address of ips, or the first address of
// any family when there is none.
func pickAddr(ips []net.IP) (netip.Addr, bool) {
	var fallback netip.Addr
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.Is4() {
			return addr, true
		}
		if !fallback.IsValid() {
			fallback = addr
		}
	}
	return fallback, fallback.IsValid()
}
