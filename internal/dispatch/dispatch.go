// Package dispatch applies wired command frames to the display context.
//
// Every opcode maps to one entry of a dense command enum, and the handler
// table is an array indexed by that enum. The table length is checked
// against the enum at compile time, so a command without a handler does not
// build.
package dispatch

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/protocol"
	"github.com/coreman2200/povpoi/internal/storage"
	"github.com/coreman2200/povpoi/internal/store"
)

type command uint8

const (
	cmdSetMode command = iota
	cmdUploadImage
	cmdUploadPattern
	cmdUploadSequence
	cmdLiveFrame
	cmdSetBrightness
	cmdSetFrameRate
	cmdStatusRequest
	cmdStorageSave
	cmdStorageLoad
	cmdStorageList
	cmdStorageDelete
	cmdStorageInfo
	numCommands
)

func commandFor(op protocol.Opcode) (command, bool) {
	switch op {
	case protocol.OpSetMode:
		return cmdSetMode, true
	case protocol.OpUploadImage:
		return cmdUploadImage, true
	case protocol.OpUploadPattern:
		return cmdUploadPattern, true
	case protocol.OpUploadSequence:
		return cmdUploadSequence, true
	case protocol.OpLiveFrame:
		return cmdLiveFrame, true
	case protocol.OpSetBrightness:
		return cmdSetBrightness, true
	case protocol.OpSetFrameRate:
		return cmdSetFrameRate, true
	case protocol.OpStatusRequest:
		return cmdStatusRequest, true
	case protocol.OpStorageSave:
		return cmdStorageSave, true
	case protocol.OpStorageLoad:
		return cmdStorageLoad, true
	case protocol.OpStorageList:
		return cmdStorageList, true
	case protocol.OpStorageDelete:
		return cmdStorageDelete, true
	case protocol.OpStorageInfo:
		return cmdStorageInfo, true
	}
	return 0, false
}

var (
	errNoStorage = errors.New("dispatch: no storage provider")
	errSlotRange = errors.New("dispatch: slot out of range")
)

// request is one frame being handled.
type request struct {
	op      protocol.Opcode
	payload []byte
	trunc   bool
	now     time.Time
	reply   io.Writer
}

type handlerFunc func(d *Dispatcher, r *request)

var handlers = [...]handlerFunc{
	cmdSetMode:        (*Dispatcher).setMode,
	cmdUploadImage:    (*Dispatcher).uploadImage,
	cmdUploadPattern:  (*Dispatcher).uploadPattern,
	cmdUploadSequence: (*Dispatcher).uploadSequence,
	cmdLiveFrame:      (*Dispatcher).liveFrame,
	cmdSetBrightness:  (*Dispatcher).setBrightness,
	cmdSetFrameRate:   (*Dispatcher).setFrameRate,
	cmdStatusRequest:  (*Dispatcher).statusRequest,
	cmdStorageSave:    (*Dispatcher).storageSave,
	cmdStorageLoad:    (*Dispatcher).storageLoad,
	cmdStorageList:    (*Dispatcher).storageList,
	cmdStorageDelete:  (*Dispatcher).storageDelete,
	cmdStorageInfo:    (*Dispatcher).storageInfo,
}

// compile-time: one handler per command
var (
	_ [len(handlers) - int(numCommands)]struct{}
	_ [int(numCommands) - len(handlers)]struct{}
)

// Stats counts dispatcher outcomes.
type Stats struct {
	Handled uint64
	Ignored uint64
	Unknown uint64
}

// Dispatcher is the single writer of a display.Context.
type Dispatcher struct {
	ctx     *display.Context
	storage storage.Provider
	log     zerolog.Logger

	out   []byte
	stats Stats
}

// New binds a dispatcher to ctx. provider may be nil, in which case the
// storage opcodes answer with a NACK.
func New(ctx *display.Context, provider storage.Provider, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		storage: provider,
		log:     log.With().Str("component", "dispatch").Logger(),
		out:     make([]byte, 0, 300),
	}
}

func (d *Dispatcher) Stats() Stats { return d.stats }

// Dispatch handles one frame received at now. Replies go to reply, which is
// the transport the frame arrived on; it may be nil.
func (d *Dispatcher) Dispatch(f protocol.Frame, reply io.Writer, now time.Time) {
	cmd, ok := commandFor(f.Op)
	if !ok {
		d.stats.Unknown++
		d.log.Debug().Stringer("op", f.Op).Int("len", len(f.Payload)).Msg("unknown opcode ignored")
		return
	}
	r := request{op: f.Op, payload: f.Payload, trunc: f.Truncated, now: now, reply: reply}
	handlers[cmd](d, &r)
}

func (d *Dispatcher) ignore(r *request, why string) {
	d.stats.Ignored++
	d.log.Debug().Stringer("op", r.op).Int("len", len(r.payload)).Msg(why)
}

func (d *Dispatcher) send(r *request, b []byte) {
	d.out = b[:0]
	if r.reply == nil {
		return
	}
	if _, err := r.reply.Write(b); err != nil {
		d.log.Warn().Err(err).Stringer("op", r.op).Msg("reply failed")
	}
}

func (d *Dispatcher) ack(r *request) {
	d.stats.Handled++
	d.send(r, protocol.AppendAck(d.out[:0], r.op))
}

func (d *Dispatcher) nack(r *request, err error) {
	d.stats.Ignored++
	d.log.Warn().Err(err).Stringer("op", r.op).Msg("command failed")
	d.send(r, protocol.AppendNack(d.out[:0], r.op))
}

// setMode: [mode][index]. Playback is reset even when nothing changes.
func (d *Dispatcher) setMode(r *request) {
	if len(r.payload) < 2 {
		d.ignore(r, "short set-mode")
		return
	}
	m := display.Mode(r.payload[0])
	if !m.Valid() {
		d.ignore(r, "invalid mode")
		return
	}
	d.ctx.Select(m, r.payload[1], r.now)
	d.log.Info().Stringer("mode", m).Uint8("index", r.payload[1]).Msg("mode selected")
	d.ack(r)
}

// uploadImage: [w][h][RGB x w x h], column-major.
func (d *Dispatcher) uploadImage(r *request) {
	if len(r.payload) < 2 || r.payload[0] == 0 || r.payload[1] == 0 {
		d.ignore(r, "bad image header")
		return
	}
	w, h := int(r.payload[0]), int(r.payload[1])
	slot := d.ctx.Store.NextImageSlot()
	d.ingest(slot, r.payload[2:], w, h)
	lvl := zerolog.InfoLevel
	if r.trunc {
		lvl = zerolog.WarnLevel
	}
	d.log.WithLevel(lvl).
		Bool("truncated", r.trunc).
		Int("slot", slot).Int("width", w).Int("height", h).
		Uint8("stored_height", d.ctx.Store.Images[slot].Height).
		Msg("image stored")
	d.ack(r)
}

// ingest stores a column-major RGB image in slot, resampling it onto the
// display's column length and the maximum width when needed.
func (d *Dispatcher) ingest(slot int, data []byte, w, h int) {
	tw, th := w, d.ctx.Pixels
	if tw > store.MaxImageWidth {
		tw = store.MaxImageWidth
	}
	if th <= 0 {
		th = h
	}
	store.Resample(&d.ctx.Store.Images[slot], data, w, h, tw, th)
}

// uploadPattern: [slot][kind][r1 g1 b1][r2 g2 b2][speed].
func (d *Dispatcher) uploadPattern(r *request) {
	p := r.payload
	if len(p) < 9 {
		d.ignore(r, "short pattern")
		return
	}
	pat := store.Pattern{
		Kind:   store.PatternKind(p[1]),
		Color1: store.RGB{R: p[2], G: p[3], B: p[4]},
		Color2: store.RGB{R: p[5], G: p[6], B: p[7]},
		Speed:  p[8],
	}
	if !d.ctx.Store.SetPattern(int(p[0]), pat) {
		d.ignore(r, "pattern slot or kind out of range")
		return
	}
	d.log.Info().Uint8("slot", p[0]).Stringer("kind", pat.Kind).Msg("pattern stored")
	d.ack(r)
}

// uploadSequence: [slot][count][loop]([item][dur hi][dur lo]) x count.
func (d *Dispatcher) uploadSequence(r *request) {
	p := r.payload
	if len(p) < 3 {
		d.ignore(r, "short sequence")
		return
	}
	count := int(p[1])
	if avail := (len(p) - 3) / 3; count > avail {
		count = avail
	}
	items := make([]store.Item, count)
	durs := make([]uint16, count)
	for i := 0; i < count; i++ {
		off := 3 + i*3
		items[i] = store.Item(p[off])
		durs[i] = binary.BigEndian.Uint16(p[off+1:])
	}
	if !d.ctx.Store.SetSequence(int(p[0]), items, durs, p[2] != 0) {
		d.ignore(r, "sequence slot out of range")
		return
	}
	d.log.Info().Uint8("slot", p[0]).Uint8("count", d.ctx.Store.Sequences[p[0]].Count).Bool("loop", p[2] != 0).Msg("sequence stored")
	d.ack(r)
}

// liveFrame overwrites the live buffer. Short payloads leave the tail black.
func (d *Dispatcher) liveFrame(r *request) {
	d.ctx.SetLive(r.payload)
	d.ack(r)
}

func (d *Dispatcher) setBrightness(r *request) {
	if len(r.payload) < 1 {
		d.ignore(r, "short brightness")
		return
	}
	d.ctx.State.Brightness = r.payload[0]
	d.ack(r)
}

// setFrameRate takes the period in ms as one byte or a big-endian uint16.
func (d *Dispatcher) setFrameRate(r *request) {
	var ms int
	switch len(r.payload) {
	case 0:
		d.ignore(r, "short frame rate")
		return
	case 1:
		ms = int(r.payload[0])
	default:
		ms = int(binary.BigEndian.Uint16(r.payload))
	}
	if ms == 0 {
		d.ignore(r, "zero frame period")
		return
	}
	d.ctx.State.FramePeriod = time.Duration(ms) * time.Millisecond
	d.log.Info().Int("period_ms", ms).Msg("frame period set")
	d.ack(r)
}

func (d *Dispatcher) statusRequest(r *request) {
	d.stats.Handled++
	d.send(r, protocol.AppendStatus(d.out[:0], uint8(d.ctx.State.Mode), d.ctx.State.Index))
}

// storageSave: [slot][name...].
func (d *Dispatcher) storageSave(r *request) {
	slot, name, ok := slotAndName(r.payload)
	if !ok {
		d.nack(r, storage.ErrInvalidName)
		return
	}
	img, active := d.ctx.Store.Image(slot)
	if !active {
		d.nack(r, storage.ErrNotFound)
		return
	}
	if d.storage == nil {
		d.nack(r, errNoStorage)
		return
	}
	if err := d.storage.Save(name, img); err != nil {
		d.nack(r, err)
		return
	}
	d.log.Info().Int("slot", slot).Str("name", name).Msg("image saved")
	d.ack(r)
}

// storageLoad: [slot][name...]. Slot 0xFF means the next upload slot.
func (d *Dispatcher) storageLoad(r *request) {
	slot, name, ok := slotAndName(r.payload)
	if !ok {
		d.nack(r, storage.ErrInvalidName)
		return
	}
	if slot == int(protocol.AutoCycle) {
		slot = d.ctx.Store.NextImageSlot()
	}
	if slot >= store.MaxImages {
		d.nack(r, errSlotRange)
		return
	}
	if d.storage == nil {
		d.nack(r, errNoStorage)
		return
	}
	img, err := d.storage.Load(name)
	if err != nil {
		d.nack(r, err)
		return
	}
	data := img.AppendBytes(nil)
	d.ingest(slot, data, int(img.Width), int(img.Height))
	d.log.Info().Int("slot", slot).Str("name", name).Msg("image loaded")
	d.ack(r)
}

func (d *Dispatcher) storageList(r *request) {
	if d.storage == nil {
		d.nack(r, errNoStorage)
		return
	}
	names, err := d.storage.List()
	if err != nil {
		d.nack(r, err)
		return
	}
	d.stats.Handled++
	d.send(r, protocol.AppendList(d.out[:0], names))
}

// storageDelete: [name...].
func (d *Dispatcher) storageDelete(r *request) {
	name := strings.TrimRight(string(r.payload), "\x00")
	if !storage.ValidName(name) {
		d.nack(r, storage.ErrInvalidName)
		return
	}
	if d.storage == nil {
		d.nack(r, errNoStorage)
		return
	}
	if err := d.storage.Delete(name); err != nil {
		d.nack(r, err)
		return
	}
	d.log.Info().Str("name", name).Msg("image deleted")
	d.ack(r)
}

// storageInfo: [name...]. Replies with width, height and stored size.
func (d *Dispatcher) storageInfo(r *request) {
	name := strings.TrimRight(string(r.payload), "\x00")
	if !storage.ValidName(name) {
		d.nack(r, storage.ErrInvalidName)
		return
	}
	if d.storage == nil {
		d.nack(r, errNoStorage)
		return
	}
	info, err := d.storage.Info(name)
	if err != nil {
		d.nack(r, err)
		return
	}
	size := info.Size
	if size > math.MaxUint32 {
		size = math.MaxUint32
	}
	d.stats.Handled++
	d.send(r, protocol.AppendInfo(d.out[:0], info.Width, info.Height, uint32(size)))
}

func slotAndName(p []byte) (int, string, bool) {
	if len(p) < 2 {
		return 0, "", false
	}
	name := strings.TrimRight(string(p[1:]), "\x00")
	if !storage.ValidName(name) {
		return 0, "", false
	}
	return int(p[0]), name, true
}
