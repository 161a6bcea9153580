//go:build linux

package transport

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var bauds = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
}

// Serial is a raw, non-blocking tty.
type Serial struct {
	f     *os.File
	fd    int
	saved *term.State
}

// OpenSerial opens dev in raw mode at baud.
func OpenSerial(dev string, baud int) (*Serial, error) {
	speed, ok := bauds[baud]
	if !ok {
		return nil, fmt.Errorf("serial %s: unsupported baud %d", dev, baud)
	}
	f, err := os.OpenFile(dev, os.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial %s: %w", dev, err)
	}
	fd := int(f.Fd())
	saved, err := term.MakeRaw(fd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("serial %s: raw mode: %w", dev, err)
	}
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("serial %s: get termios: %w", dev, err)
	}
	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= speed | unix.CLOCAL | unix.CREAD
	tio.Ispeed = speed
	tio.Ospeed = speed
	// reads return immediately with whatever is buffered
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial %s: set termios: %w", dev, err)
	}
	// os.File.Fd puts the descriptor back in blocking mode
	if err := syscall.SetNonblock(fd, true); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial %s: nonblock: %w", dev, err)
	}
	return &Serial{f: f, fd: fd, saved: saved}, nil
}

func (s *Serial) Read(b []byte) (int, error) {
	n, err := syscall.Read(s.fd, b)
	if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || err == syscall.EINTR {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (s *Serial) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := syscall.Write(s.fd, b[total:])
		if n > 0 {
			total += n
		}
		if err == syscall.EAGAIN || err == syscall.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Serial) Close() error {
	if s.saved != nil {
		_ = term.Restore(s.fd, s.saved)
	}
	return s.f.Close()
}
