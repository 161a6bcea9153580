// Package protocol implements the wired command framing shared by the UART link
// and the wireless bridge: [START][OPCODE][LEN...][PAYLOAD...][END].
package protocol

import "fmt"

const (
	Start byte = 0xFF
	End   byte = 0xFE

	AckMarker    byte = 0xAA
	StatusMarker byte = 0xBB
	ListMarker   byte = 0xCC
	InfoMarker   byte = 0xDD
	NackMarker   byte = 0xEE

	// AutoCycle is the reserved set-mode index meaning "cycle every slot".
	AutoCycle byte = 0xFF

	// DefaultCapacity holds the largest image the store keeps (128x64 RGB plus
	// the width/height header) with room to spare.
	DefaultCapacity = 1 << 15
	MaxNameLen      = 32
)

type Opcode uint8

const (
	OpSetMode        Opcode = 0x01
	OpUploadImage    Opcode = 0x02
	OpUploadPattern  Opcode = 0x03
	OpUploadSequence Opcode = 0x04
	OpLiveFrame      Opcode = 0x05
	OpSetBrightness  Opcode = 0x06
	OpSetFrameRate   Opcode = 0x07
	OpStatusRequest  Opcode = 0x10
	OpStorageSave    Opcode = 0x20
	OpStorageLoad    Opcode = 0x21
	OpStorageList    Opcode = 0x22
	OpStorageDelete  Opcode = 0x23
	OpStorageInfo    Opcode = 0x24
)

func (op Opcode) String() string {
	switch op {
	case OpSetMode:
		return "set-mode"
	case OpUploadImage:
		return "upload-image"
	case OpUploadPattern:
		return "upload-pattern"
	case OpUploadSequence:
		return "upload-sequence"
	case OpLiveFrame:
		return "live-frame"
	case OpSetBrightness:
		return "set-brightness"
	case OpSetFrameRate:
		return "set-frame-rate"
	case OpStatusRequest:
		return "status-request"
	case OpStorageSave:
		return "storage-save"
	case OpStorageLoad:
		return "storage-load"
	case OpStorageList:
		return "storage-list"
	case OpStorageDelete:
		return "storage-delete"
	case OpStorageInfo:
		return "storage-info"
	default:
		return fmt.Sprintf("opcode(0x%02X)", uint8(op))
	}
}

// Known reports whether op is part of the wired command set.
func Known(op Opcode) bool {
	switch op {
	case OpSetMode, OpUploadImage, OpUploadPattern, OpUploadSequence, OpLiveFrame,
		OpSetBrightness, OpSetFrameRate, OpStatusRequest,
		OpStorageSave, OpStorageLoad, OpStorageList, OpStorageDelete, OpStorageInfo:
		return true
	}
	return false
}

// LengthWidth is the size in bytes of the length field following op.
// Only upload-image carries a 16-bit (big-endian) length.
func LengthWidth(op Opcode) int {
	if op == OpUploadImage {
		return 2
	}
	return 1
}

// MaxLength is the largest payload the length field of op can declare.
func MaxLength(op Opcode) int {
	if LengthWidth(op) == 2 {
		return 0xFFFF
	}
	return 0xFF
}

// Frame is one complete command. Payload aliases the framer's buffer and is
// only valid for the duration of the handler call.
type Frame struct {
	Op      Opcode
	Payload []byte
	// Declared is the length the sender announced; it exceeds len(Payload)
	// only when Truncated is set.
	Declared  int
	Truncated bool
}

// AppendFrame encodes a command frame. Payloads longer than the opcode's
// length field can describe are truncated.
func AppendFrame(dst []byte, op Opcode, payload []byte) []byte {
	if max := MaxLength(op); len(payload) > max {
		payload = payload[:max]
	}
	dst = append(dst, Start, byte(op))
	if LengthWidth(op) == 2 {
		dst = append(dst, byte(len(payload)>>8))
	}
	dst = append(dst, byte(len(payload)))
	dst = append(dst, payload...)
	return append(dst, End)
}

func AppendAck(dst []byte, op Opcode) []byte {
	return append(dst, Start, AckMarker, byte(op), End)
}

func AppendNack(dst []byte, op Opcode) []byte {
	return append(dst, Start, NackMarker, byte(op), End)
}

func AppendStatus(dst []byte, mode, index uint8) []byte {
	return append(dst, Start, StatusMarker, mode, index, End)
}

// AppendList encodes names NUL-separated behind a one-byte length; names that
// would overflow the length byte are left out.
func AppendList(dst []byte, names []string) []byte {
	var body []byte
	for _, n := range names {
		extra := len(n)
		if len(body) > 0 {
			extra++
		}
		if len(body)+extra > 0xFF {
			break
		}
		if len(body) > 0 {
			body = append(body, 0)
		}
		body = append(body, n...)
	}
	dst = append(dst, Start, ListMarker, byte(len(body)))
	dst = append(dst, body...)
	return append(dst, End)
}

// InfoSize is the data size of an info reply: width and height as uint16
// then the stored size in bytes as uint32, all big-endian.
const InfoSize = 8

func AppendInfo(dst []byte, width, height uint16, size uint32) []byte {
	dst = append(dst, Start, InfoMarker)
	dst = append(dst, byte(width>>8), byte(width), byte(height>>8), byte(height))
	dst = append(dst, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	return append(dst, End)
}
