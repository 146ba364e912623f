// Package canbus receives and decodes the Pylontech-profile BMS frames
// from a raw socketcan interface.
package canbus

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Frame is one received CAN frame. The bridge only consumes 8-byte
// classic frames with 11-bit identifiers.
type Frame struct {
	ID   uint32
	Len  int
	Data [8]byte
}

// Socket is a receive-only raw CAN socket. Reads time out after one
// second so the poll loop can account staleness between frames.
type Socket struct {
	fd    int
	iface string
}

// OpenSocket binds a raw CAN socket to the named interface.
func OpenSocket(iface string) (*Socket, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("CAN interface %s not found: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("cannot create CAN socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("cannot bind CAN socket to %s: %w", iface, err)
	}
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("cannot set CAN read timeout: %w", err)
	}

	return &Socket{fd: fd, iface: iface}, nil
}

// Receive reads one frame. A read timeout returns (nil, nil) so callers
// can distinguish a quiet bus from a broken one.
func (s *Socket) Receive() (*Frame, error) {
	// struct can_frame: id(4) dlc(1) pad(3) data(8)
	buf := make([]byte, 16)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("CAN read on %s failed: %w", s.iface, err)
	}
	if n < 16 {
		return nil, nil
	}

	f := &Frame{
		ID:  binary.LittleEndian.Uint32(buf[0:4]) & unix.CAN_EFF_MASK,
		Len: int(buf[4]),
	}
	copy(f.Data[:], buf[8:16])
	return f, nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
