//go:build linux && !baremetal

// Package tunnel implements the Tunnel endpoint contract against a Linux
// TUN device: a layer-3, point-to-point interface that delivers and
// accepts raw IPv4 datagrams with no link-layer framing.
package tunnel

import (
	"fmt"
	"os"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"
)

const ifNameSize = 16

// Tunnel is an open Linux TUN device opened with IFF_NO_PI, so the first
// byte read is always the IPv4 version/IHL byte.
type Tunnel struct {
	fd   int
	name string
}

// Open creates (or attaches to) the TUN interface named name.
func Open(name string) (*Tunnel, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tunnel: open /dev/net/tun: %w", err)
	}
	var ifr ifreq
	copy(ifr.name[:], name)
	ifr.setFlags(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := ioctl(fd, unix.TUNSETIFF, unsafe.Pointer(&ifr)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tunnel: TUNSETIFF: %w", err)
	}
	return &Tunnel{fd: fd, name: name}, nil
}

// Configure brings the interface up and assigns it as a point-to-point
// link: addrCIDR (e.g. "10.0.0.2/24") bound locally, peer (e.g.
// "10.0.0.1") as the remote endpoint. These are the fixed addresses this
// stack ships with.
func (t *Tunnel) Configure(addrCIDR, peer string) error {
	if err := run("ip", "link", "set", "dev", t.name, "up"); err != nil {
		return err
	}
	if err := run("ip", "addr", "add", addrCIDR, "peer", peer, "dev", t.name); err != nil {
		return err
	}
	return nil
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tunnel: %s %v: %w", name, args, err)
	}
	return nil
}

// Read blocks until one IPv4 datagram is available and copies it into b.
func (t *Tunnel) Read(b []byte) (int, error) { return unix.Read(t.fd, b) }

// Write enqueues one IPv4 datagram for transmission.
func (t *Tunnel) Write(b []byte) (int, error) { return unix.Write(t.fd, b) }

// Close releases the underlying file descriptor.
func (t *Tunnel) Close() error { return unix.Close(t.fd) }

// Poll reports whether a subsequent Read would return immediately,
// waiting up to timeoutMs milliseconds.
func (t *Tunnel) Poll(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

// ifreq mirrors struct ifreq from linux/if.h; the data field is sized
// generously since only TUNSETIFF's short_name+flags union member is used.
type ifreq struct {
	name [ifNameSize]byte
	data [64]byte
}

func (r *ifreq) setFlags(flags uint16) {
	*(*uint16)(unsafe.Pointer(&r.data[0])) = flags
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
