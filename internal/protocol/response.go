package protocol

// Response is one device-to-host frame: an ack/nack, status or list reply.
type Response struct {
	Marker byte
	Data   []byte
}

// responseSize is the fixed data size for a marker; -1 means a length byte follows.
func responseSize(marker byte) (int, bool) {
	switch marker {
	case AckMarker, NackMarker:
		return 1, true
	case StatusMarker:
		return 2, true
	case InfoMarker:
		return InfoSize, true
	case ListMarker:
		return -1, true
	}
	return 0, false
}

// ResponseReader frames the replies the dispatcher writes back. Like Framer it
// relies on known sizes rather than scanning for the end marker.
type ResponseReader struct {
	buf    [0xFF]byte
	n      int
	need   int
	marker byte
	state  framerState
	handle func(Response)
}

func NewResponseReader(handle func(Response)) *ResponseReader {
	return &ResponseReader{handle: handle}
}

func (r *ResponseReader) Write(p []byte) (int, error) {
	for _, b := range p {
		r.Feed(b)
	}
	return len(p), nil
}

func (r *ResponseReader) reset() {
	r.n, r.need, r.state = 0, 0, scanning
}

func (r *ResponseReader) Feed(b byte) {
	switch r.state {
	case scanning:
		if b == Start {
			r.state = readOpcode
		}
	case readOpcode:
		size, ok := responseSize(b)
		if !ok {
			r.reset()
			return
		}
		r.marker = b
		switch {
		case size < 0:
			r.state = readLength
		case size == 0:
			r.state = readEnd
		default:
			r.need = size
			r.state = readPayload
		}
	case readLength:
		r.need = int(b)
		if r.need == 0 {
			r.state = readEnd
		} else {
			r.state = readPayload
		}
	case readPayload:
		r.buf[r.n] = b
		r.n++
		if r.n == r.need {
			r.state = readEnd
		}
	case readEnd:
		if b == End && r.handle != nil {
			r.handle(Response{Marker: r.marker, Data: r.buf[:r.n]})
		}
		r.reset()
	}
}
