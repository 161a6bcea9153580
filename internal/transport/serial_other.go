//go:build !linux

package transport

import (
	"errors"
	"fmt"
)

// Serial is unavailable off Linux.
type Serial struct{}

func OpenSerial(dev string, baud int) (*Serial, error) {
	return nil, fmt.Errorf("serial %s: %w", dev, errors.ErrUnsupported)
}

func (s *Serial) Read([]byte) (int, error)  { return 0, errors.ErrUnsupported }
func (s *Serial) Write([]byte) (int, error) { return 0, errors.ErrUnsupported }
func (s *Serial) Close() error              { return nil }
