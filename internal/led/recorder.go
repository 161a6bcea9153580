package led

import (
	"sync"

	"github.com/coreman2200/povpoi/internal/store"
)

// Recorder keeps the most recent frame and hands it to an optional
// observer. The preview server and tests read frames through it.
type Recorder struct {
	mu         sync.Mutex
	last       []store.RGB
	brightness uint8
	frames     uint64

	// OnFrame runs synchronously inside Write with a copy of the frame.
	OnFrame func(frame []store.RGB, brightness uint8)
}

func NewRecorder(count int) *Recorder {
	return &Recorder{last: make([]store.RGB, count)}
}

func (r *Recorder) Write(frame []store.RGB, brightness uint8) error {
	r.mu.Lock()
	r.last = append(r.last[:0], frame...)
	r.brightness = brightness
	r.frames++
	cb := r.OnFrame
	r.mu.Unlock()
	if cb != nil {
		cb(r.Last(), brightness)
	}
	return nil
}

// Last returns a copy of the most recent frame.
func (r *Recorder) Last() []store.RGB {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.RGB(nil), r.last...)
}

func (r *Recorder) Brightness() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.brightness
}

func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Recorder) Close() error { return nil }
