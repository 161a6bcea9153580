// Package console turns operator text commands into wired protocol frames
// and describes the device's replies.
//
//	mode pattern 3          brightness 200        period 20
//	pattern 0 fire ff4000 200000 12
//	sequence 0 loop i0:1000 p3:2500
//	live ff0000 00ff00      image heart.bmp       status
//	save 0 heart.pov        load auto heart.pov   list    delete heart.pov
//	info heart.pov
//	raw ff 06 01 40 fe
package console

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/protocol"
	"github.com/coreman2200/povpoi/internal/storage"
	"github.com/coreman2200/povpoi/internal/store"
)

var ErrUsage = errors.New("console: usage")

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUsage}, args...)...)
}

type command func(args []string) ([]byte, error)

var commands = map[string]command{
	"mode":       modeCmd,
	"brightness": brightnessCmd,
	"period":     periodCmd,
	"pattern":    patternCmd,
	"sequence":   sequenceCmd,
	"live":       liveCmd,
	"image":      imageCmd,
	"status":     func([]string) ([]byte, error) { return frame(protocol.OpStatusRequest), nil },
	"save":       storageCmd("save", protocol.OpStorageSave),
	"load":       storageCmd("load", protocol.OpStorageLoad),
	"list":       func([]string) ([]byte, error) { return frame(protocol.OpStorageList), nil },
	"delete":     nameCmd("delete", protocol.OpStorageDelete),
	"info":       nameCmd("info", protocol.OpStorageInfo),
	"raw":        rawCmd,
}

// Names lists the command words in sorted order.
func Names() []string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Command encodes one command given as separate words.
func Command(name string, args []string) ([]byte, error) {
	cmd, ok := commands[strings.ToLower(name)]
	if !ok {
		return nil, usage("unknown command %q", name)
	}
	return cmd(args)
}

// Parse encodes one command line. Blank lines and # comments yield nil.
func Parse(line string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return nil, nil
	}
	// shlex would start a comment at #rrggbb
	words, err := shlex.Split(strings.ReplaceAll(line, "#", `\#`))
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	if len(words) == 0 {
		return nil, nil
	}
	return Command(words[0], words[1:])
}

func frame(op protocol.Opcode, payload ...byte) []byte {
	return protocol.AppendFrame(nil, op, payload)
}

func byteArg(s, what string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, usage("%s %q: want 0-255", what, s)
	}
	return byte(v), nil
}

// ParseColor accepts rrggbb with an optional leading #.
func ParseColor(s string) (store.RGB, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || len(b) != 3 {
		return store.RGB{}, usage("colour %q: want rrggbb", s)
	}
	return store.RGB{R: b[0], G: b[1], B: b[2]}, nil
}

// ParseMode accepts a mode name or its number.
func ParseMode(s string) (display.Mode, error) {
	for m := display.Idle; m.Valid(); m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	if v, err := strconv.ParseUint(s, 10, 8); err == nil && display.Mode(v).Valid() {
		return display.Mode(v), nil
	}
	return 0, usage("mode %q", s)
}

// ParseKind accepts a pattern kind name or its number.
func ParseKind(s string) (store.PatternKind, error) {
	for k := store.Rainbow; k.Valid(); k++ {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	if v, err := strconv.ParseUint(s, 10, 8); err == nil && store.PatternKind(v).Valid() {
		return store.PatternKind(v), nil
	}
	return 0, usage("pattern kind %q", s)
}

func slotArg(s string) (byte, error) {
	if s == "auto" {
		return protocol.AutoCycle, nil
	}
	return byteArg(s, "slot")
}

func modeCmd(args []string) ([]byte, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, usage("mode <name> [index|auto]")
	}
	m, err := ParseMode(args[0])
	if err != nil {
		return nil, err
	}
	var idx byte
	if len(args) == 2 {
		if idx, err = slotArg(args[1]); err != nil {
			return nil, err
		}
	}
	return frame(protocol.OpSetMode, byte(m), idx), nil
}

func brightnessCmd(args []string) ([]byte, error) {
	if len(args) != 1 {
		return nil, usage("brightness <0-255>")
	}
	b, err := byteArg(args[0], "brightness")
	if err != nil {
		return nil, err
	}
	return frame(protocol.OpSetBrightness, b), nil
}

func periodCmd(args []string) ([]byte, error) {
	if len(args) != 1 {
		return nil, usage("period <ms>")
	}
	ms, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil || ms == 0 {
		return nil, usage("period %q: want 1-65535", args[0])
	}
	return frame(protocol.OpSetFrameRate, byte(ms>>8), byte(ms)), nil
}

func patternCmd(args []string) ([]byte, error) {
	if len(args) != 5 {
		return nil, usage("pattern <slot> <kind> <rrggbb> <rrggbb> <speed>")
	}
	slot, err := byteArg(args[0], "slot")
	if err != nil {
		return nil, err
	}
	kind, err := ParseKind(args[1])
	if err != nil {
		return nil, err
	}
	c1, err := ParseColor(args[2])
	if err != nil {
		return nil, err
	}
	c2, err := ParseColor(args[3])
	if err != nil {
		return nil, err
	}
	speed, err := byteArg(args[4], "speed")
	if err != nil {
		return nil, err
	}
	return frame(protocol.OpUploadPattern, slot, byte(kind), c1.R, c1.G, c1.B, c2.R, c2.G, c2.B, speed), nil
}

// sequenceCmd items are i<slot>:<ms> for images and p<slot>:<ms> for
// patterns.
func sequenceCmd(args []string) ([]byte, error) {
	if len(args) < 1 {
		return nil, usage("sequence <slot> [loop] <i|p><slot>:<ms>...")
	}
	slot, err := byteArg(args[0], "slot")
	if err != nil {
		return nil, err
	}
	args = args[1:]
	var loop byte
	if len(args) > 0 && args[0] == "loop" {
		loop = 1
		args = args[1:]
	}
	if len(args) > store.MaxSequenceItems {
		return nil, usage("at most %d items", store.MaxSequenceItems)
	}
	payload := []byte{slot, byte(len(args)), loop}
	for _, a := range args {
		item, ms, ok := strings.Cut(a, ":")
		if !ok || len(item) < 2 {
			return nil, usage("sequence item %q", a)
		}
		idx, err := strconv.ParseUint(item[1:], 10, 7)
		if err != nil {
			return nil, usage("sequence item %q", a)
		}
		var it store.Item
		switch item[0] {
		case 'i':
			it = store.ImageItem(uint8(idx))
		case 'p':
			it = store.PatternSlot(uint8(idx))
		default:
			return nil, usage("sequence item %q: want i or p", a)
		}
		d, err := strconv.ParseUint(ms, 10, 16)
		if err != nil {
			return nil, usage("sequence duration %q", a)
		}
		payload = append(payload, byte(it), byte(d>>8), byte(d))
	}
	return frame(protocol.OpUploadSequence, payload...), nil
}

func liveCmd(args []string) ([]byte, error) {
	payload := make([]byte, 0, len(args)*3)
	for _, a := range args {
		c, err := ParseColor(a)
		if err != nil {
			return nil, err
		}
		payload = append(payload, c.R, c.G, c.B)
	}
	return frame(protocol.OpLiveFrame, payload...), nil
}

// imageCmd uploads a local .bmp or POV1 file.
func imageCmd(args []string) ([]byte, error) {
	if len(args) != 1 {
		return nil, usage("image <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var img *store.Image
	if strings.EqualFold(filepath.Ext(args[0]), ".bmp") {
		img, err = storage.DecodeBMP(f)
	} else {
		img, err = storage.DecodePOV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", args[0], err)
	}
	return UploadImage(img), nil
}

// UploadImage encodes img as an upload-image frame.
func UploadImage(img *store.Image) []byte {
	payload := img.AppendBytes([]byte{img.Width, img.Height})
	return frame(protocol.OpUploadImage, payload...)
}

func storageCmd(verb string, op protocol.Opcode) command {
	return func(args []string) ([]byte, error) {
		if len(args) != 2 {
			return nil, usage("%s <slot|auto> <name>", verb)
		}
		slot, err := slotArg(args[0])
		if err != nil {
			return nil, err
		}
		if !storage.ValidName(args[1]) {
			return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, args[1])
		}
		return frame(op, append([]byte{slot}, args[1]...)...), nil
	}
}

func nameCmd(verb string, op protocol.Opcode) command {
	return func(args []string) ([]byte, error) {
		if len(args) != 1 {
			return nil, usage("%s <name>", verb)
		}
		if !storage.ValidName(args[0]) {
			return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, args[0])
		}
		return frame(op, []byte(args[0])...), nil
	}
}

func rawCmd(args []string) ([]byte, error) {
	b, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		return nil, usage("raw <hex bytes>")
	}
	return b, nil
}

// Describe renders a device reply for the operator.
func Describe(r protocol.Response) string {
	switch r.Marker {
	case protocol.AckMarker:
		return fmt.Sprintf("ok %s", protocol.Opcode(r.Data[0]))
	case protocol.NackMarker:
		return fmt.Sprintf("error %s", protocol.Opcode(r.Data[0]))
	case protocol.StatusMarker:
		return fmt.Sprintf("status mode=%s index=%d", display.Mode(r.Data[0]), r.Data[1])
	case protocol.InfoMarker:
		if len(r.Data) < protocol.InfoSize {
			break
		}
		return fmt.Sprintf("info %dx%d %d bytes",
			binary.BigEndian.Uint16(r.Data), binary.BigEndian.Uint16(r.Data[2:]), binary.BigEndian.Uint32(r.Data[4:]))
	case protocol.ListMarker:
		if len(r.Data) == 0 {
			return "list (empty)"
		}
		return "list " + strings.ReplaceAll(string(r.Data), "\x00", " ")
	}
	return fmt.Sprintf("reply %#02x % x", r.Marker, r.Data)
}

// Sender accepts encoded frames; transport.Pipe satisfies it.
type Sender interface {
	Send(b []byte) bool
}

// Run reads command lines from in until EOF or ctx ends, sending each
// frame to dev. Usage errors are printed to out and do not stop the loop.
func Run(ctx context.Context, in io.Reader, dev Sender, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := Parse(sc.Text())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if b != nil && !dev.Send(b) {
			fmt.Fprintln(out, "device input full; command dropped")
		}
	}
	return sc.Err()
}
