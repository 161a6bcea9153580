// Package preview serves the rendered strip and diagnostics over
// websockets and accepts wired commands from browsers and tools.
package preview

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coreman2200/povpoi/internal/console"
	"github.com/coreman2200/povpoi/internal/diagnostics"
	"github.com/coreman2200/povpoi/internal/layout"
	"github.com/coreman2200/povpoi/internal/store"
	"github.com/coreman2200/povpoi/internal/transport"
)

const writeWait = 200 * time.Millisecond

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) send(typ int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(typ, b)
}

// Server is safe for concurrent use. Frame is called from the control
// loop; everything else runs on server goroutines.
type Server struct {
	mu       sync.RWMutex
	layout   layout.Layout
	driver   string
	input    *transport.Pipe
	snapshot func() diagnostics.Snapshot

	rgb        []byte
	brightness uint8
	frameID    uint64
	startTime  time.Time

	frames  map[*client]bool
	diag    map[*client]bool
	control map[*client]bool
	wake    chan struct{}

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New returns a server previewing l. Commands received on /control are
// pushed into input, and replies the device writes to input are relayed
// back to every control client. snapshot may be nil.
func New(l layout.Layout, driver string, input *transport.Pipe, snapshot func() diagnostics.Snapshot, log zerolog.Logger) *Server {
	return &Server{
		layout:    l,
		driver:    driver,
		input:     input,
		snapshot:  snapshot,
		rgb:       make([]byte, l.Count()*3),
		startTime: time.Now(),
		frames:    map[*client]bool{},
		diag:      map[*client]bool{},
		control:   map[*client]bool{},
		wake:      make(chan struct{}, 1),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:       log.With().Str("component", "preview").Logger(),
	}
}

// Frame records the latest strip frame. It never blocks; slow clients
// only ever see the newest frame.
func (s *Server) Frame(frame []store.RGB, brightness uint8) {
	s.mu.Lock()
	s.rgb = s.rgb[:0]
	for _, c := range frame {
		s.rgb = append(s.rgb, c.R, c.G, c.B)
	}
	s.brightness = brightness
	s.frameID++
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Handler routes /ws (frames), /diag (diagnostics), /control (commands),
// /health and /api/diagnostics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleFramesWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/control", s.HandleControlWS)
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/api/diagnostics", s.HandleDiagnostics)
	return withCORS(mux)
}

// Run broadcasts frames, relays device replies and pushes diagnostics
// every diagEvery until ctx ends.
func (s *Server) Run(ctx context.Context, diagEvery time.Duration) {
	if diagEvery <= 0 {
		diagEvery = time.Second
	}
	t := time.NewTicker(diagEvery)
	defer t.Stop()
	var replies <-chan []byte
	if s.input != nil {
		replies = s.input.Output()
	}
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-s.wake:
			s.broadcastFrame()
		case b, ok := <-replies:
			if !ok {
				replies = nil
				continue
			}
			s.broadcast(s.control, websocket.BinaryMessage, b)
		case <-t.C:
			for _, d := range s.Diagnostics() {
				s.pushDiag(d)
			}
		}
	}
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, set map[*client]bool) *client {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("websocket upgrade failed")
		return nil
	}
	c := &client{conn: conn}
	s.mu.Lock()
	set[c] = true
	s.mu.Unlock()
	return c
}

func (s *Server) drop(c *client, set map[*client]bool) {
	s.mu.Lock()
	delete(set, c)
	s.mu.Unlock()
	c.conn.Close()
}

// readUntilClosed discards client messages so control frames (ping,
// close) are processed.
func (s *Server) readUntilClosed(c *client, set map[*client]bool) {
	defer s.drop(c, set)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	c := s.accept(w, r, s.frames)
	if c == nil {
		return
	}
	s.sendTopology(c)
	go s.readUntilClosed(c, s.frames)
}

func (s *Server) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	c := s.accept(w, r, s.diag)
	if c == nil {
		return
	}
	go s.readUntilClosed(c, s.diag)
}

// HandleControlWS accepts binary messages as raw wired bytes and text
// messages as console command lines.
func (s *Server) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	c := s.accept(w, r, s.control)
	if c == nil {
		return
	}
	defer s.drop(c, s.control)
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if typ == websocket.TextMessage {
			if data, err = console.Parse(string(data)); err != nil {
				c.send(websocket.TextMessage, []byte(err.Error()))
				continue
			}
		}
		if len(data) == 0 || s.input == nil {
			continue
		}
		if !s.input.Send(data) {
			c.send(websocket.TextMessage, []byte("device input full; command dropped"))
		}
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := map[string]any{
		"frame_id":   s.frameID,
		"uptime_s":   time.Since(s.startTime).Seconds(),
		"count":      s.layout.Count(),
		"brightness": s.brightness,
		"driver":     s.driver,
	}
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Diagnostics())
}

// Diagnostics evaluates the current snapshot.
func (s *Server) Diagnostics() []diagnostics.Diagnostic {
	if s.snapshot == nil {
		return nil
	}
	return diagnostics.Evaluate(s.snapshot())
}

func (s *Server) sendTopology(c *client) {
	s.mu.RLock()
	top := map[string]any{
		"num_leds":      s.layout.NumLEDs,
		"display_start": s.layout.DisplayStart,
		"display_count": s.layout.DisplayCount,
		"flip":          s.layout.Flip,
		"driver":        s.driver,
	}
	s.mu.RUnlock()
	b, _ := json.Marshal(top)
	_ = c.send(websocket.TextMessage, b)
}

type framePayload struct {
	T          int64  `json:"t"`
	FrameID    uint64 `json:"frame_id"`
	Brightness uint8  `json:"brightness"`
	RGB        []byte `json:"rgb"`
}

func (s *Server) broadcastFrame() {
	s.mu.RLock()
	b, _ := json.Marshal(framePayload{T: time.Now().UnixNano(), FrameID: s.frameID, Brightness: s.brightness, RGB: s.rgb})
	s.mu.RUnlock()
	s.broadcast(s.frames, websocket.TextMessage, b)
}

func (s *Server) pushDiag(d diagnostics.Diagnostic) {
	b, _ := json.Marshal(d)
	s.broadcast(s.diag, websocket.TextMessage, b)
}

func (s *Server) broadcast(set map[*client]bool, typ int, b []byte) {
	s.mu.RLock()
	targets := make([]*client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	s.mu.RUnlock()
	for _, c := range targets {
		if err := c.send(typ, b); err != nil {
			s.log.Debug().Err(err).Msg("websocket write")
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range []map[*client]bool{s.frames, s.diag, s.control} {
		for c := range set {
			c.conn.Close()
			delete(set, c)
		}
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
