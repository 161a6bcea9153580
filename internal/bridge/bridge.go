// Package bridge translates the wireless command framing into wired
// protocol frames and carries the wired replies back, fragmented and paced
// for the wireless link.
//
// Wireless frame: [D0][CMD][PAYLOAD...][D1]. There is no length field; the
// end marker closes the frame.
package bridge

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/protocol"
)

const (
	Start byte = 0xD0
	End   byte = 0xD1

	BufferSize = 1024
	// MaxFragment is the largest notification the wireless link carries.
	MaxFragment = 509
	// DefaultPacing separates consecutive fragments of one reply.
	DefaultPacing = 10 * time.Millisecond
)

// Wireless command codes.
const (
	CodeBrightness    byte = 0x02
	CodeSpeed         byte = 0x03
	CodePatternUpload byte = 0x04
	CodePatternSlot   byte = 0x05
	CodePatternAll    byte = 0x06
	CodeImageSlot     byte = 0x07
	CodeOff           byte = 0x08
	CodeSetSequence   byte = 0x0E
	CodeStartSequence byte = 0x0F
	CodeStatus        byte = 0x10
)

// Reply codes for translated acks; other replies keep their wired marker.
const (
	ReplyAck  byte = 0x00
	ReplyNack byte = 0x01
)

// Stats counts bridge outcomes.
type Stats struct {
	Frames    uint64
	Forwarded uint64
	Unknown   uint64
	Overflows uint64
	Timeouts  uint64
	Fragments uint64
}

// Bridge owns one wireless link. Wired frames it produces are written to
// wired (normally the wired Framer); replies for the link are fed to
// Replies() and drained to link by Flush.
type Bridge struct {
	buf   [BufferSize]byte
	n     int
	armed bool
	last  time.Time

	wired   io.Writer
	link    io.Writer
	replies *protocol.ResponseReader
	timeout time.Duration
	pacing  time.Duration

	queue    [][]byte
	lastSent time.Time
	scratch  []byte

	stats Stats
	log   zerolog.Logger
}

// New returns a bridge forwarding to wired and replying on link.
func New(wired, link io.Writer, timeout, pacing time.Duration, log zerolog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = time.Second
	}
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	b := &Bridge{
		wired:   wired,
		link:    link,
		timeout: timeout,
		pacing:  pacing,
		scratch: make([]byte, 0, BufferSize+8),
		log:     log.With().Str("component", "bridge").Logger(),
	}
	b.replies = protocol.NewResponseReader(b.translate)
	return b
}

func (b *Bridge) Stats() Stats { return b.stats }

// Replies is where the dispatcher writes wired responses for this link.
func (b *Bridge) Replies() io.Writer { return b.replies }

// Pending is the number of fragments waiting for their pacing slot.
func (b *Bridge) Pending() int { return len(b.queue) }

// Write feeds wireless bytes; it satisfies io.Writer.
func (b *Bridge) Write(p []byte) (int, error) {
	now := time.Now()
	for _, c := range p {
		b.Feed(c, now)
	}
	return len(p), nil
}

// Feed consumes one wireless byte received at now.
func (b *Bridge) Feed(c byte, now time.Time) {
	b.last = now
	switch {
	case !b.armed:
		if c == Start && b.n == 0 {
			b.armed = true
		}
	case c == End:
		b.stats.Frames++
		b.forward(b.buf[:b.n])
		b.reset()
	case b.n == len(b.buf):
		b.stats.Overflows++
		b.log.Warn().Int("size", b.n).Msg("wireless frame overflow; dropped")
		b.reset()
	default:
		b.buf[b.n] = c
		b.n++
	}
}

// Expire drops a partial wireless frame idle longer than the timeout.
func (b *Bridge) Expire(now time.Time) {
	if !b.armed || now.Sub(b.last) < b.timeout {
		return
	}
	b.stats.Timeouts++
	b.log.Debug().Int("received", b.n).Msg("partial wireless frame timed out")
	b.reset()
}

func (b *Bridge) reset() {
	b.n = 0
	b.armed = false
}

// Translate returns the wired frame for one wireless command (code followed
// by payload), appended to dst. ok is false for unknown or malformed
// commands.
func Translate(dst, cmd []byte) (out []byte, ok bool) {
	if len(cmd) == 0 {
		return dst, false
	}
	code, p := cmd[0], cmd[1:]
	switch code {
	case CodeBrightness:
		return protocol.AppendFrame(dst, protocol.OpSetBrightness, p), true
	case CodeSpeed:
		return protocol.AppendFrame(dst, protocol.OpSetFrameRate, p), true
	case CodePatternUpload:
		// the app sends kind, colours and speed without a slot
		if len(p) == 8 {
			dst = append(dst, protocol.Start, byte(protocol.OpUploadPattern), 9, 0)
			dst = append(dst, p...)
			return append(dst, protocol.End), true
		}
		return protocol.AppendFrame(dst, protocol.OpUploadPattern, p), true
	case CodePatternSlot:
		if len(p) < 1 {
			return dst, false
		}
		return setMode(dst, display.Pattern, p[0]), true
	case CodePatternAll:
		return setMode(dst, display.Pattern, protocol.AutoCycle), true
	case CodeImageSlot:
		if len(p) < 1 {
			return dst, false
		}
		return setMode(dst, display.Image, p[0]), true
	case CodeOff:
		return setMode(dst, display.Idle, 0), true
	case CodeSetSequence:
		return protocol.AppendFrame(dst, protocol.OpUploadSequence, p), true
	case CodeStartSequence:
		if len(p) < 1 {
			return dst, false
		}
		return setMode(dst, display.Sequence, p[0]), true
	case CodeStatus:
		return protocol.AppendFrame(dst, protocol.OpStatusRequest, nil), true
	}
	return dst, false
}

func setMode(dst []byte, m display.Mode, index byte) []byte {
	return append(dst, protocol.Start, byte(protocol.OpSetMode), 2, byte(m), index, protocol.End)
}

func (b *Bridge) forward(cmd []byte) {
	frame, ok := Translate(b.scratch[:0], cmd)
	if !ok {
		b.stats.Unknown++
		var code byte
		if len(cmd) > 0 {
			code = cmd[0]
		}
		b.log.Debug().Uint8("code", code).Int("len", len(cmd)).Msg("unknown wireless command")
		return
	}
	b.scratch = frame[:0]
	b.stats.Forwarded++
	if _, err := b.wired.Write(frame); err != nil {
		b.log.Warn().Err(err).Msg("forward to wired side failed")
	}
}

// translate turns one wired reply into a wireless frame and queues its
// fragments.
func (b *Bridge) translate(r protocol.Response) {
	code := r.Marker
	switch r.Marker {
	case protocol.AckMarker:
		code = ReplyAck
	case protocol.NackMarker:
		code = ReplyNack
	}
	msg := make([]byte, 0, len(r.Data)+3)
	msg = append(msg, Start, code)
	msg = append(msg, r.Data...)
	msg = append(msg, End)
	for len(msg) > 0 {
		n := len(msg)
		if n > MaxFragment {
			n = MaxFragment
		}
		b.queue = append(b.queue, msg[:n:n])
		msg = msg[n:]
	}
}

// Flush sends at most one queued fragment, honouring the pacing interval
// since the previous one. It never blocks.
func (b *Bridge) Flush(now time.Time) {
	if len(b.queue) == 0 || (!b.lastSent.IsZero() && now.Sub(b.lastSent) < b.pacing) {
		return
	}
	frag := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	b.lastSent = now
	b.stats.Fragments++
	if _, err := b.link.Write(frag); err != nil {
		b.log.Warn().Err(err).Msg("wireless reply failed")
	}
}
