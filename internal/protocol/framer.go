package protocol

import (
	"time"

	"github.com/rs/zerolog"
)

type framerState uint8

const (
	scanning framerState = iota
	readOpcode
	readLength
	readPayload
	readEnd
	discarding
)

// Stats counts framer outcomes since construction.
type Stats struct {
	Frames    uint64
	Dropped   uint64
	Overflows uint64
	Timeouts  uint64
}

// Framer turns a byte stream into Frames. The length field is authoritative:
// once a header is read the framer consumes exactly that many payload bytes,
// so marker values inside binary payloads are plain data.
//
// A declared length larger than the buffer puts the framer in discard mode
// until the oversized frame has passed; it never blocks and never errors.
type Framer struct {
	buf     []byte
	state   framerState
	op      Opcode
	lenRead int
	need    int
	skip    int
	last    time.Time
	timeout time.Duration

	handle func(Frame)
	stats  Stats
	log    zerolog.Logger
}

// NewFramer allocates a framer whose payload buffer holds capacity bytes.
// handle runs synchronously from Feed/Expire for every complete frame.
func NewFramer(capacity int, timeout time.Duration, log zerolog.Logger, handle func(Frame)) *Framer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Framer{
		buf:     make([]byte, 0, capacity),
		timeout: timeout,
		handle:  handle,
		log:     log,
	}
}

func (f *Framer) Stats() Stats { return f.stats }

// Idle reports whether the framer is waiting for a start marker.
func (f *Framer) Idle() bool { return f.state == scanning }

func (f *Framer) reset() {
	f.buf = f.buf[:0]
	f.state = scanning
	f.lenRead = 0
	f.need = 0
	f.skip = 0
}

// Write feeds p through the framer; it satisfies io.Writer for loopback use.
func (f *Framer) Write(p []byte) (int, error) {
	now := time.Now()
	for _, b := range p {
		f.Feed(b, now)
	}
	return len(p), nil
}

// Feed consumes one byte received at now.
func (f *Framer) Feed(b byte, now time.Time) {
	f.last = now
	switch f.state {
	case scanning:
		// start only arms with an empty buffer
		if b == Start {
			f.state = readOpcode
		}

	case readOpcode:
		if !Known(Opcode(b)) {
			// a stray start byte: b may be the real one
			f.stats.Dropped++
			if b != Start {
				f.state = scanning
			}
			return
		}
		f.op = Opcode(b)
		f.state = readLength

	case readLength:
		f.need = f.need<<8 | int(b)
		f.lenRead++
		if f.lenRead < LengthWidth(f.op) {
			return
		}
		switch {
		case f.need > cap(f.buf):
			f.stats.Overflows++
			f.log.Warn().
				Stringer("op", f.op).
				Int("declared", f.need).
				Int("capacity", cap(f.buf)).
				Msg("frame exceeds buffer; discarding")
			skip := f.need + 1 // payload and end marker
			f.reset()
			f.state = discarding
			f.skip = skip
		case f.need == 0:
			f.state = readEnd
		default:
			f.state = readPayload
		}

	case readPayload:
		f.buf = append(f.buf, b)
		if len(f.buf) == f.need {
			f.state = readEnd
		}

	case readEnd:
		if b != End {
			f.stats.Dropped++
			f.log.Debug().Stringer("op", f.op).Uint8("got", b).Msg("missing end marker; frame dropped")
			f.reset()
			if b == Start {
				f.state = readOpcode
			}
			return
		}
		f.deliver(false)

	case discarding:
		f.skip--
		if f.skip <= 0 {
			f.reset()
		}
	}
}

// Expire gives up on a partial frame that has been idle longer than the
// timeout. A partial image upload whose width and height arrived, or one
// that only lacks its end marker, is handed on as truncated so ingestion can
// still show what was received.
func (f *Framer) Expire(now time.Time) {
	if f.state == scanning || now.Sub(f.last) < f.timeout {
		return
	}
	f.stats.Timeouts++
	if (f.state == readPayload || f.state == readEnd) && f.op == OpUploadImage && len(f.buf) >= 2 {
		f.log.Warn().Int("received", len(f.buf)).Int("declared", f.need).Msg("image upload timed out; using partial data")
		f.deliver(true)
		return
	}
	f.log.Debug().Stringer("op", f.op).Int("received", len(f.buf)).Msg("partial frame timed out")
	f.reset()
}

func (f *Framer) deliver(truncated bool) {
	fr := Frame{Op: f.op, Payload: f.buf, Declared: f.need, Truncated: truncated}
	f.stats.Frames++
	if f.handle != nil {
		f.handle(fr)
	}
	f.reset()
}
