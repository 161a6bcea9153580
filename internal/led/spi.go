package led

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/apa102"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"

	"github.com/coreman2200/povpoi/internal/store"
)

// Chip selects the strip protocol spoken over SPI.
type Chip string

const (
	APA102 Chip = "apa102"
	WS2812 Chip = "ws2812"
)

// SPIOptions configures an SPI strip.
type SPIOptions struct {
	Port  string // spireg name, "" for the first port
	Chip  Chip
	Count int
	Speed physic.Frequency // NRZ bit rate; APA102 picks its own clock
}

// pixelWriter is what both periph strip devices expose.
type pixelWriter interface {
	io.Writer
	Halt() error
}

// SPI drives an APA102 or WS2812 strip through periph.
type SPI struct {
	chip  Chip
	port  spi.PortCloser
	dev   pixelWriter
	apa   *apa102.Dev
	count int
	buf   []byte
}

// OpenSPI initialises the host drivers, opens the SPI port and binds the
// strip device to it.
func OpenSPI(o SPIOptions) (*SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p, err := spireg.Open(o.Port)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", o.Port, err)
	}
	s, err := NewSPI(p, o)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewSPI binds a strip device to an already open port. The port is closed
// with the sink.
func NewSPI(p spi.PortCloser, o SPIOptions) (*SPI, error) {
	if o.Count <= 0 {
		return nil, fmt.Errorf("invalid LED count: %d", o.Count)
	}
	s := &SPI{chip: o.Chip, port: p, count: o.Count, buf: make([]byte, 0, o.Count*3)}
	switch o.Chip {
	case APA102, "":
		opts := apa102.DefaultOpts
		opts.NumPixels = o.Count
		d, err := apa102.New(p, &opts)
		if err != nil {
			return nil, fmt.Errorf("apa102: %w", err)
		}
		s.chip, s.dev, s.apa = APA102, d, d
	case WS2812:
		freq := o.Speed
		if freq == 0 {
			freq = 800 * physic.KiloHertz
		}
		d, err := nrzled.NewSPI(p, &nrzled.Opts{NumPixels: o.Count, Channels: 3, Freq: freq})
		if err != nil {
			return nil, fmt.Errorf("nrzled: %w", err)
		}
		s.dev = d
	default:
		return nil, fmt.Errorf("unknown LED chip %q", o.Chip)
	}
	return s, nil
}

// Write sends the frame. APA102 takes brightness as its global intensity;
// WS2812 has none, so the pixels are scaled.
func (s *SPI) Write(frame []store.RGB, brightness uint8) error {
	if len(frame) > s.count {
		frame = frame[:s.count]
	}
	scale := brightness
	if s.apa != nil {
		s.apa.Intensity = brightness
		scale = 255
	}
	s.buf = Pack(s.buf[:0], frame, scale)
	if _, err := s.dev.Write(s.buf); err != nil {
		return fmt.Errorf("%s write: %w", s.chip, err)
	}
	return nil
}

// Close blanks the strip and releases the port.
func (s *SPI) Close() error {
	herr := s.dev.Halt()
	if err := s.port.Close(); err != nil {
		return err
	}
	return herr
}
