package storage

import (
	"sort"

	"github.com/coreman2200/povpoi/internal/store"
)

// Memory keeps images in a map. The simulator uses it when no storage
// directory is configured.
type Memory struct {
	images map[string]store.Image
}

func NewMemory() *Memory { return &Memory{images: map[string]store.Image{}} }

func (m *Memory) Save(name string, img *store.Image) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	m.images[name] = *img
	return nil
}

func (m *Memory) Load(name string) (*store.Image, error) {
	img, ok := m.images[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &img, nil
}

func (m *Memory) List() ([]string, error) {
	names := make([]string, 0, len(m.images))
	for n := range m.images {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Delete(name string) error {
	if _, ok := m.images[name]; !ok {
		return ErrNotFound
	}
	delete(m.images, name)
	return nil
}

// Info reports the size the image would take as a POV1 file.
func (m *Memory) Info(name string) (Info, error) {
	img, ok := m.images[name]
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{
		Width:  uint16(img.Width),
		Height: uint16(img.Height),
		Size:   headerSize + int64(img.Width)*int64(img.Height)*3,
	}, nil
}
