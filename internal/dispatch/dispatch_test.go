package dispatch

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/protocol"
	"github.com/coreman2200/povpoi/internal/storage"
	"github.com/coreman2200/povpoi/internal/store"
)

type rig struct {
	ctx   *display.Context
	d     *Dispatcher
	out   bytes.Buffer
	fr    *protocol.Framer
	clock time.Time
}

func newRig(t *testing.T, pixels int, provider storage.Provider) *rig {
	t.Helper()
	r := &rig{clock: time.Unix(100, 0)}
	r.ctx = display.NewContext(store.New(), pixels)
	r.d = New(r.ctx, provider, zerolog.Nop())
	r.fr = protocol.NewFramer(0, time.Second, zerolog.Nop(), func(f protocol.Frame) {
		r.d.Dispatch(f, &r.out, r.clock)
	})
	return r
}

// send frames op/payload through the wired framer and returns the reply bytes.
func (r *rig) send(op protocol.Opcode, payload ...byte) []byte {
	r.out.Reset()
	for _, b := range protocol.AppendFrame(nil, op, payload) {
		r.fr.Feed(b, r.clock)
	}
	return append([]byte(nil), r.out.Bytes()...)
}

func ack(op protocol.Opcode) []byte { return protocol.AppendAck(nil, op) }

func TestHandlerTableIsComplete(t *testing.T) {
	for i, h := range handlers {
		assert.NotNil(t, h, "command %d", i)
	}
	for op := 0; op < 256; op++ {
		if c, ok := commandFor(protocol.Opcode(op)); ok {
			assert.Less(t, int(c), int(numCommands))
		}
	}
}

func TestSetModeAcksAndSelects(t *testing.T) {
	r := newRig(t, 8, nil)
	assert.Equal(t, ack(protocol.OpSetMode), r.send(protocol.OpSetMode, 2, 5))
	assert.Equal(t, display.Pattern, r.ctx.State.Mode)
	assert.Equal(t, uint8(5), r.ctx.State.Index)

	assert.Empty(t, r.send(protocol.OpSetMode, 9, 0), "invalid mode is ignored")
	assert.Empty(t, r.send(protocol.OpSetMode, 1), "short payload is ignored")
	assert.Equal(t, display.Pattern, r.ctx.State.Mode)
}

func TestSetModeAlwaysResetsPlayback(t *testing.T) {
	r := newRig(t, 8, nil)
	r.send(protocol.OpSetMode, 3, 0)
	r.ctx.Playback.CurrentItem = 4
	r.ctx.Playback.ItemStart = time.Unix(1, 0)
	r.ctx.Playback.Playing = false

	r.clock = r.clock.Add(time.Minute)
	r.send(protocol.OpSetMode, 3, 0) // same mode and index
	assert.Equal(t, uint8(0), r.ctx.Playback.CurrentItem)
	assert.Equal(t, r.clock, r.ctx.Playback.ItemStart)
	assert.True(t, r.ctx.Playback.Playing)

	r.ctx.Playback.CurrentItem = 2
	r.send(protocol.OpSetMode, 1, 0)
	assert.Equal(t, uint8(0), r.ctx.Playback.CurrentItem)
	assert.False(t, r.ctx.Playback.Playing)
}

func TestUploadImageRoundTrip(t *testing.T) {
	r := newRig(t, 2, nil)
	px := []byte{255, 0, 0, 0, 255, 0, 0, 0, 255, 255, 255, 0}
	reply := r.send(protocol.OpUploadImage, append([]byte{2, 2}, px...)...)
	assert.Equal(t, ack(protocol.OpUploadImage), reply)

	img, ok := r.ctx.Store.Image(0)
	require.True(t, ok)
	assert.Equal(t, uint8(2), img.Width)
	assert.Equal(t, uint8(2), img.Height)
	assert.Equal(t, px, img.AppendBytes(nil))

	// next upload goes to the next slot
	r.send(protocol.OpUploadImage, 1, 2, 1, 2, 3, 4, 5, 6)
	_, ok = r.ctx.Store.Image(1)
	assert.True(t, ok)
}

func TestUploadImageWithEndMarkerBytesInPayload(t *testing.T) {
	r := newRig(t, 1, nil)
	reply := r.send(protocol.OpUploadImage, 2, 1, 0xFE, 0xFF, 0xFE, 0xFF, 0xFE, 0xFF)
	require.Equal(t, ack(protocol.OpUploadImage), reply)
	img, _ := r.ctx.Store.Image(0)
	assert.Equal(t, []byte{0xFE, 0xFF, 0xFE, 0xFF, 0xFE, 0xFF}, img.AppendBytes(nil))
}

func TestUploadImageResamplesToDisplayHeight(t *testing.T) {
	r := newRig(t, 4, nil)
	// one column, two rows: red over blue
	r.send(protocol.OpUploadImage, 1, 2, 255, 0, 0, 0, 0, 255)
	img, ok := r.ctx.Store.Image(0)
	require.True(t, ok)
	assert.Equal(t, uint8(4), img.Height)
	assert.Equal(t, []store.RGB{{R: 255}, {R: 255}, {B: 255}, {B: 255}}, img.Column(0))
}

func TestTruncatedImageFillsBlack(t *testing.T) {
	r := newRig(t, 2, nil)
	r.d.Dispatch(protocol.Frame{
		Op:        protocol.OpUploadImage,
		Payload:   []byte{2, 2, 9, 9, 9},
		Declared:  14,
		Truncated: true,
	}, &r.out, r.clock)
	img, ok := r.ctx.Store.Image(0)
	require.True(t, ok)
	assert.Equal(t, store.RGB{R: 9, G: 9, B: 9}, img.Pixels[0][0])
	assert.Equal(t, store.Black, img.Pixels[1][1])
}

func TestUploadPattern(t *testing.T) {
	r := newRig(t, 8, nil)
	reply := r.send(protocol.OpUploadPattern, 3, byte(store.Wave), 1, 2, 3, 4, 5, 6, 77)
	assert.Equal(t, ack(protocol.OpUploadPattern), reply)
	p, ok := r.ctx.Store.Pattern(3)
	require.True(t, ok)
	assert.Equal(t, store.Wave, p.Kind)
	assert.Equal(t, store.RGB{R: 1, G: 2, B: 3}, p.Color1)
	assert.Equal(t, store.RGB{R: 4, G: 5, B: 6}, p.Color2)
	assert.Equal(t, uint8(77), p.Speed)

	assert.Empty(t, r.send(protocol.OpUploadPattern, store.MaxPatterns, 0, 0, 0, 0, 0, 0, 0, 0))
	assert.Empty(t, r.send(protocol.OpUploadPattern, 0, 42, 0, 0, 0, 0, 0, 0, 0))
	assert.Empty(t, r.send(protocol.OpUploadPattern, 0, 0))
}

func TestUploadSequenceDropsAndClamps(t *testing.T) {
	r := newRig(t, 8, nil)
	payload := []byte{1, 20, 1}
	for i := 0; i < 20; i++ {
		item := byte(i % 4)
		if i == 0 {
			item = 50 // image slot out of range, dropped
		}
		payload = append(payload, item, 0x01, 0x2C)
	}
	assert.Equal(t, ack(protocol.OpUploadSequence), r.send(protocol.OpUploadSequence, payload...))
	seq, ok := r.ctx.Store.Sequence(1)
	require.True(t, ok)
	assert.Equal(t, uint8(store.MaxSequenceItems), seq.Count)
	assert.Equal(t, store.Item(1), seq.Items[0])
	assert.Equal(t, uint16(300), seq.Durations[0])
	assert.True(t, seq.Loop)

	// declared count larger than the payload holds
	r.send(protocol.OpUploadSequence, 2, 5, 0, 0x81, 0, 10)
	seq, ok = r.ctx.Store.Sequence(2)
	require.True(t, ok)
	assert.Equal(t, uint8(1), seq.Count)
	assert.True(t, seq.Items[0].IsPattern())

	assert.Empty(t, r.send(protocol.OpUploadSequence, store.MaxSequences, 1, 0, 0, 0, 1))
}

func TestLiveFrameIsAckedAndPadded(t *testing.T) {
	r := newRig(t, 3, nil)
	assert.Equal(t, []byte{0xFF, 0xAA, 0x05, 0xFE}, r.send(protocol.OpLiveFrame, 1, 2, 3))
	assert.Equal(t, store.RGB{R: 1, G: 2, B: 3}, r.ctx.Live.Pixels[0])
	assert.Equal(t, store.Black, r.ctx.Live.Pixels[1])

	long := bytes.Repeat([]byte{7}, 30)
	assert.Equal(t, ack(protocol.OpLiveFrame), r.send(protocol.OpLiveFrame, long...))
	assert.Equal(t, store.RGB{R: 7, G: 7, B: 7}, r.ctx.Live.Pixels[2])
	assert.Equal(t, store.Black, r.ctx.Live.Pixels[3])
}

func TestBrightnessAndFrameRate(t *testing.T) {
	r := newRig(t, 8, nil)
	assert.Equal(t, ack(protocol.OpSetBrightness), r.send(protocol.OpSetBrightness, 40))
	assert.Equal(t, uint8(40), r.ctx.State.Brightness)

	r.send(protocol.OpSetFrameRate, 20)
	assert.Equal(t, 20*time.Millisecond, r.ctx.State.FramePeriod)
	r.send(protocol.OpSetFrameRate, 0x01, 0x00)
	assert.Equal(t, 256*time.Millisecond, r.ctx.State.FramePeriod)
	assert.Empty(t, r.send(protocol.OpSetFrameRate, 0))
	assert.Equal(t, 256*time.Millisecond, r.ctx.State.FramePeriod)
}

func TestStatusReply(t *testing.T) {
	r := newRig(t, 8, nil)
	r.send(protocol.OpSetMode, 1, protocol.AutoCycle)
	assert.Equal(t, []byte{0xFF, 0xBB, 1, 0xFF, 0xFE}, r.send(protocol.OpStatusRequest))
}

func TestUnknownOpcodeIgnored(t *testing.T) {
	r := newRig(t, 8, nil)
	r.d.Dispatch(protocol.Frame{Op: 0x42, Payload: []byte{1, 2}}, &r.out, r.clock)
	assert.Empty(t, r.out.Bytes())
	assert.Equal(t, uint64(1), r.d.Stats().Unknown)
}

func TestStorageOpcodes(t *testing.T) {
	mem := storage.NewMemory()
	r := newRig(t, 2, mem)
	r.send(protocol.OpUploadImage, 1, 2, 1, 1, 1, 2, 2, 2)

	assert.Equal(t, ack(protocol.OpStorageSave), r.send(protocol.OpStorageSave, append([]byte{0}, "heart.pov"...)...))
	assert.Equal(t, protocol.AppendList(nil, []string{"heart.pov"}), r.send(protocol.OpStorageList))

	assert.Equal(t, ack(protocol.OpStorageLoad), r.send(protocol.OpStorageLoad, append([]byte{5}, "heart.pov"...)...))
	img, ok := r.ctx.Store.Image(5)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 1, 1, 2, 2, 2}, img.AppendBytes(nil))

	nack := func(op protocol.Opcode) []byte { return protocol.AppendNack(nil, op) }
	assert.Equal(t, nack(protocol.OpStorageSave), r.send(protocol.OpStorageSave, append([]byte{7}, "x.pov"...)...), "inactive slot")
	assert.Equal(t, nack(protocol.OpStorageLoad), r.send(protocol.OpStorageLoad, append([]byte{0}, "missing"...)...))
	assert.Equal(t, nack(protocol.OpStorageSave), r.send(protocol.OpStorageSave, append([]byte{0}, "../etc"...)...))

	assert.Equal(t, protocol.AppendInfo(nil, 1, 2, 26), r.send(protocol.OpStorageInfo, []byte("heart.pov")...))
	assert.Equal(t, nack(protocol.OpStorageInfo), r.send(protocol.OpStorageInfo, []byte("missing")...))

	assert.Equal(t, ack(protocol.OpStorageDelete), r.send(protocol.OpStorageDelete, []byte("heart.pov")...))
	assert.Equal(t, nack(protocol.OpStorageDelete), r.send(protocol.OpStorageDelete, []byte("heart.pov")...))
}

func TestStorageWithoutProviderNacks(t *testing.T) {
	r := newRig(t, 2, nil)
	assert.Equal(t, protocol.AppendNack(nil, protocol.OpStorageList), r.send(protocol.OpStorageList))
	assert.Equal(t, protocol.AppendNack(nil, protocol.OpStorageInfo), r.send(protocol.OpStorageInfo, []byte("a.pov")...))
}
