package store

const (
	MaxImages        = 10
	MaxImageWidth    = 128
	MaxImageHeight   = 64
	MaxPatterns      = 16
	MaxSequences     = 5
	MaxSequenceItems = 16
)

// PatternItem marks a sequence item byte as addressing a pattern slot;
// items without it address an image slot.
const PatternItem uint8 = 0x80

// RGB is a raw 24-bit pixel.
type RGB struct{ R, G, B uint8 }

var Black = RGB{}

type PatternKind uint8

const (
	Rainbow PatternKind = iota
	Wave
	Gradient
	Sparkle
	Fire
	Comet
	Breathing
	Plasma
	numPatternKinds
)

func (k PatternKind) Valid() bool { return k < numPatternKinds }

func (k PatternKind) String() string {
	switch k {
	case Rainbow:
		return "rainbow"
	case Wave:
		return "wave"
	case Gradient:
		return "gradient"
	case Sparkle:
		return "sparkle"
	case Fire:
		return "fire"
	case Comet:
		return "comet"
	case Breathing:
		return "breathing"
	case Plasma:
		return "plasma"
	default:
		return "unknown"
	}
}

// Image is stored column-major: Pixels[column][row].
type Image struct {
	Width  uint8
	Height uint8
	Pixels [MaxImageWidth][MaxImageHeight]RGB
	Active bool
}

// Column returns the visible part of column c.
func (img *Image) Column(c int) []RGB {
	return img.Pixels[c][:img.Height]
}

type Pattern struct {
	Kind   PatternKind
	Color1 RGB
	Color2 RGB
	Speed  uint8
	Active bool
}

// Item is one sequence step: high bit selects pattern vs image, low bits the slot.
type Item uint8

func ImageItem(slot uint8) Item   { return Item(slot &^ PatternItem) }
func PatternSlot(slot uint8) Item { return Item(slot | PatternItem) }

func (i Item) IsPattern() bool { return uint8(i)&PatternItem != 0 }
func (i Item) Index() uint8    { return uint8(i) &^ PatternItem }

type Sequence struct {
	Items     [MaxSequenceItems]Item
	Durations [MaxSequenceItems]uint16 // milliseconds
	Count     uint8
	Loop      bool
	Active    bool
}

// Store holds every content slot. It is plain data; nothing here allocates after New.
type Store struct {
	Images    [MaxImages]Image
	Patterns  [MaxPatterns]Pattern
	Sequences [MaxSequences]Sequence

	nextImage int
}

func New() *Store { return &Store{} }

// Image returns the slot if it exists and is active.
func (s *Store) Image(i int) (*Image, bool) {
	if i < 0 || i >= MaxImages || !s.Images[i].Active {
		return nil, false
	}
	return &s.Images[i], true
}

func (s *Store) Pattern(i int) (*Pattern, bool) {
	if i < 0 || i >= MaxPatterns || !s.Patterns[i].Active {
		return nil, false
	}
	return &s.Patterns[i], true
}

func (s *Store) Sequence(i int) (*Sequence, bool) {
	if i < 0 || i >= MaxSequences || !s.Sequences[i].Active {
		return nil, false
	}
	return &s.Sequences[i], true
}

// NextImageSlot returns the slot the next upload lands in and advances the
// round-robin write cursor.
func (s *Store) NextImageSlot() int {
	slot := s.nextImage
	s.nextImage = (s.nextImage + 1) % MaxImages
	return slot
}

// SetPattern writes a pattern slot. Out-of-range slots and unknown kinds are ignored.
func (s *Store) SetPattern(slot int, p Pattern) bool {
	if slot < 0 || slot >= MaxPatterns || !p.Kind.Valid() {
		return false
	}
	p.Active = true
	s.Patterns[slot] = p
	return true
}

// SetSequence writes a sequence slot. Items pointing past their store capacity
// are dropped and the count clamped to MaxSequenceItems.
func (s *Store) SetSequence(slot int, items []Item, durations []uint16, loop bool) bool {
	if slot < 0 || slot >= MaxSequences {
		return false
	}
	seq := &s.Sequences[slot]
	*seq = Sequence{Loop: loop}
	for i := range items {
		if int(seq.Count) == MaxSequenceItems {
			break
		}
		it := items[i]
		limit := MaxImages
		if it.IsPattern() {
			limit = MaxPatterns
		}
		if int(it.Index()) >= limit {
			continue
		}
		var d uint16
		if i < len(durations) {
			d = durations[i]
		}
		seq.Items[seq.Count] = it
		seq.Durations[seq.Count] = d
		seq.Count++
	}
	seq.Active = seq.Count > 0
	return true
}

// ActiveImages counts active image slots.
func (s *Store) ActiveImages() int {
	n := 0
	for i := range s.Images {
		if s.Images[i].Active {
			n++
		}
	}
	return n
}

func (s *Store) ActivePatterns() int {
	n := 0
	for i := range s.Patterns {
		if s.Patterns[i].Active {
			n++
		}
	}
	return n
}

// NthActiveImage returns the slot index of the n-th active image (mod the active count).
func (s *Store) NthActiveImage(n int) (int, bool) {
	cnt := s.ActiveImages()
	if cnt == 0 {
		return 0, false
	}
	n %= cnt
	for i := range s.Images {
		if !s.Images[i].Active {
			continue
		}
		if n == 0 {
			return i, true
		}
		n--
	}
	return 0, false
}

func (s *Store) NthActivePattern(n int) (int, bool) {
	cnt := s.ActivePatterns()
	if cnt == 0 {
		return 0, false
	}
	n %= cnt
	for i := range s.Patterns {
		if !s.Patterns[i].Active {
			continue
		}
		if n == 0 {
			return i, true
		}
		n--
	}
	return 0, false
}
