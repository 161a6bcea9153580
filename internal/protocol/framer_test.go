package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	Op        Opcode
	Payload   []byte
	Truncated bool
}

func newTestFramer(capacity int) (*Framer, *[]captured) {
	got := &[]captured{}
	f := NewFramer(capacity, 50*time.Millisecond, zerolog.Nop(), func(fr Frame) {
		*got = append(*got, captured{fr.Op, append([]byte(nil), fr.Payload...), fr.Truncated})
	})
	return f, got
}

func feed(f *Framer, now time.Time, b []byte) {
	for _, c := range b {
		f.Feed(c, now)
	}
}

func TestFramerSimpleCommand(t *testing.T) {
	f, got := newTestFramer(64)
	feed(f, time.Now(), []byte{0xFF, 0x01, 0x02, 0x02, 0x00, 0xFE})

	require.Len(t, *got, 1)
	assert.Equal(t, OpSetMode, (*got)[0].Op)
	assert.Equal(t, []byte{0x02, 0x00}, (*got)[0].Payload)
	assert.True(t, f.Idle())
}

func TestFramerEmptyPayload(t *testing.T) {
	f, got := newTestFramer(64)
	feed(f, time.Now(), []byte{0xFF, 0x10, 0x00, 0xFE})
	require.Len(t, *got, 1)
	assert.Equal(t, OpStatusRequest, (*got)[0].Op)
	assert.Empty(t, (*got)[0].Payload)
}

func TestFramerIgnoresNoiseBeforeStart(t *testing.T) {
	f, got := newTestFramer(64)
	feed(f, time.Now(), []byte{0x00, 0xFE, 0x13, 0xFF, 0x06, 0x01, 0x80, 0xFE})
	require.Len(t, *got, 1)
	assert.Equal(t, OpSetBrightness, (*got)[0].Op)
	assert.Equal(t, []byte{0x80}, (*got)[0].Payload)
}

func TestFramerMarkersInsidePayloadAreData(t *testing.T) {
	f, got := newTestFramer(64)
	// 1x2 white/near-white image: payload holds both 0xFF and 0xFE
	payload := []byte{1, 2, 0xFF, 0xFE, 0xFF, 0xFE, 0xFE, 0xFF}
	feed(f, time.Now(), AppendFrame(nil, OpUploadImage, payload))

	require.Len(t, *got, 1)
	assert.Equal(t, OpUploadImage, (*got)[0].Op)
	assert.Equal(t, payload, (*got)[0].Payload)
}

func TestFramerImageUsesSixteenBitLength(t *testing.T) {
	payload := make([]byte, 300)
	enc := AppendFrame(nil, OpUploadImage, payload)
	assert.Equal(t, []byte{0xFF, 0x02, 0x01, 0x2C}, enc[:4])

	f, got := newTestFramer(512)
	feed(f, time.Now(), enc)
	require.Len(t, *got, 1)
	assert.Len(t, (*got)[0].Payload, 300)
}

func TestFramerOversizedFrameDoesNotCorruptNext(t *testing.T) {
	f, got := newTestFramer(16)
	oversized := AppendFrame(nil, OpUploadImage, bytes.Repeat([]byte{0xFF}, 100))
	valid := []byte{0xFF, 0x01, 0x02, 0x01, 0x03, 0xFE}

	now := time.Now()
	feed(f, now, oversized)
	feed(f, now, valid)

	require.Len(t, *got, 1)
	assert.Equal(t, OpSetMode, (*got)[0].Op)
	assert.Equal(t, []byte{0x01, 0x03}, (*got)[0].Payload)
	assert.Equal(t, uint64(1), f.Stats().Overflows)
}

func TestFramerMissingEndDropsAndResyncs(t *testing.T) {
	f, got := newTestFramer(64)
	now := time.Now()
	// END position holds a START: drop and rearm immediately
	feed(f, now, []byte{0xFF, 0x06, 0x01, 0x80, 0xFF, 0x06, 0x01, 0x40, 0xFE})

	require.Len(t, *got, 1)
	assert.Equal(t, []byte{0x40}, (*got)[0].Payload)
	assert.Equal(t, uint64(1), f.Stats().Dropped)
}

func TestFramerTimeoutDropsPartialCommand(t *testing.T) {
	f, got := newTestFramer(64)
	now := time.Now()
	feed(f, now, []byte{0xFF, 0x01, 0x02, 0x02})

	f.Expire(now.Add(10 * time.Millisecond))
	assert.False(t, f.Idle(), "not yet timed out")

	f.Expire(now.Add(time.Second))
	assert.True(t, f.Idle())
	assert.Empty(t, *got)
	assert.Equal(t, uint64(1), f.Stats().Timeouts)
}

func TestFramerTimeoutDeliversTruncatedImage(t *testing.T) {
	f, got := newTestFramer(64)
	now := time.Now()
	enc := AppendFrame(nil, OpUploadImage, append([]byte{2, 2}, make([]byte, 12)...))
	feed(f, now, enc[:4+2+6]) // header plus two pixels

	f.Expire(now.Add(time.Second))
	require.Len(t, *got, 1)
	assert.True(t, (*got)[0].Truncated)
	assert.Len(t, (*got)[0].Payload, 8)
}

func TestFramerTimeoutDeliversImageMissingEnd(t *testing.T) {
	f, got := newTestFramer(64)
	now := time.Now()
	enc := AppendFrame(nil, OpUploadImage, append([]byte{1, 1}, 9, 9, 9))
	feed(f, now, enc[:len(enc)-1])

	f.Expire(now.Add(time.Second))
	require.Len(t, *got, 1)
	assert.True(t, (*got)[0].Truncated)
	assert.Equal(t, []byte{1, 1, 9, 9, 9}, (*got)[0].Payload)
}

func TestFramerStrayStartResyncs(t *testing.T) {
	f, got := newTestFramer(64)
	now := time.Now()
	// a stray 0xFF right before a real frame
	feed(f, now, []byte{0xFF, 0xFF, 0x06, 0x01, 0x40, 0xFE})
	require.Len(t, *got, 1)
	assert.Equal(t, OpSetBrightness, (*got)[0].Op)

	// an unknown opcode drops back to scanning
	feed(f, now, []byte{0xFF, 0x42, 0x01, 0x06, 0xFF, 0x06, 0x01, 0x41, 0xFE})
	require.Len(t, *got, 2)
	assert.Equal(t, []byte{0x41}, (*got)[1].Payload)
	assert.Equal(t, uint64(2), f.Stats().Dropped)
}

func TestResponseReader(t *testing.T) {
	var got []Response
	r := NewResponseReader(func(resp Response) {
		got = append(got, Response{resp.Marker, append([]byte(nil), resp.Data...)})
	})
	var b []byte
	b = AppendAck(b, OpSetMode)
	b = AppendStatus(b, 2, 5)
	b = AppendList(b, []string{"heart", "smile"})
	b = AppendNack(b, OpStorageLoad)
	b = AppendInfo(b, 32, 31, 2996)
	_, _ = r.Write(b)

	require.Len(t, got, 5)
	assert.Equal(t, Response{AckMarker, []byte{0x01}}, got[0])
	assert.Equal(t, Response{StatusMarker, []byte{2, 5}}, got[1])
	assert.Equal(t, Response{ListMarker, []byte("heart\x00smile")}, got[2])
	assert.Equal(t, Response{NackMarker, []byte{0x21}}, got[3])
	assert.Equal(t, Response{InfoMarker, []byte{0, 32, 0, 31, 0, 0, 0x0B, 0xB4}}, got[4])
}
