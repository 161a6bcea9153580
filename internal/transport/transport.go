// Package transport provides the byte ports the control loop polls.
//
// Every Port read is non-blocking: when nothing is available Read returns
// 0, nil immediately.
package transport

import (
	"errors"
	"io"
	"sync"
)

// Port is one bidirectional byte link (UART, wireless bridge UART, pipe).
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

var ErrClosed = errors.New("transport: port closed")

// Pipe is an in-memory Port. Other goroutines hand it input with Send and
// collect output from Output; the control loop reads and writes it without
// blocking.
type Pipe struct {
	in      chan []byte
	out     chan []byte
	pending []byte

	mu     sync.Mutex
	closed bool
}

// NewPipe returns a pipe buffering up to depth chunks in each direction.
func NewPipe(depth int) *Pipe {
	if depth <= 0 {
		depth = 64
	}
	return &Pipe{
		in:  make(chan []byte, depth),
		out: make(chan []byte, depth),
	}
}

// Send queues input for the device side. It copies p and reports false when
// the pipe is full or closed.
func (p *Pipe) Send(b []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.in <- append([]byte(nil), b...):
		return true
	default:
		return false
	}
}

// Output carries everything the device wrote, one chunk per Write.
func (p *Pipe) Output() <-chan []byte { return p.out }

// Read drains queued input without blocking.
func (p *Pipe) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case chunk, ok := <-p.in:
			if !ok {
				return 0, io.EOF
			}
			p.pending = chunk
		default:
			return 0, nil
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write never blocks; output is dropped when nobody drains it.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	select {
	case p.out <- append([]byte(nil), b...):
	default:
	}
	return len(b), nil
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.in)
	close(p.out)
	return nil
}

// Discard is a Port that never has input and drops output.
type Discard struct{}

func (Discard) Read([]byte) (int, error)    { return 0, nil }
func (Discard) Write(b []byte) (int, error) { return len(b), nil }
func (Discard) Close() error                { return nil }
