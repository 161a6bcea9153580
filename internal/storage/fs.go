package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lunixbochs/struc"
	"golang.org/x/image/bmp"

	"github.com/coreman2200/povpoi/internal/store"
)

// Magic is "POV1" read as a little-endian uint32.
const (
	Magic   uint32 = 0x504F5631
	Version uint32 = 1
)

// Header precedes the pixel data in a POV1 file. Pixel data is RGB,
// column-major, Width*Height*3 bytes.
type Header struct {
	Magic    uint32
	Version  uint32
	Width    uint16
	Height   uint16
	DataSize uint32
	Reserved uint32
}

var order = &struc.Options{Order: binary.LittleEndian}

// headerSize is the packed size of Header.
const headerSize = 20

// EncodePOV writes img as a POV1 file.
func EncodePOV(w io.Writer, img *store.Image) error {
	data := img.AppendBytes(nil)
	h := Header{
		Magic:    Magic,
		Version:  Version,
		Width:    uint16(img.Width),
		Height:   uint16(img.Height),
		DataSize: uint32(len(data)),
	}
	if err := struc.PackWithOptions(w, &h, order); err != nil {
		return fmt.Errorf("pov header: %w", err)
	}
	_, err := w.Write(data)
	return err
}

// DecodePOV reads a POV1 file. Images larger than the store limits are
// resampled down to them.
func DecodePOV(r io.Reader) (*store.Image, error) {
	var h Header
	if err := struc.UnpackWithOptions(r, &h, order); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if h.Magic != Magic || h.Version != Version || h.Width == 0 || h.Height == 0 ||
		h.DataSize != uint32(h.Width)*uint32(h.Height)*3 {
		return nil, ErrInvalidFormat
	}
	data := make([]byte, h.DataSize)
	n, err := io.ReadFull(r, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return fit(data[:n], int(h.Width), int(h.Height)), nil
}

// DecodeBMP converts a bitmap into a column-major store image: x is the
// column, y the row from the top.
func DecodeBMP(r io.Reader) (*store.Image, error) {
	src, err := bmp.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, ErrInvalidFormat
	}
	data := make([]byte, 0, w*h*3)
	for x := b.Min.X; x < b.Max.X; x++ {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			data = append(data, c.R, c.G, c.B)
		}
	}
	return fit(data, w, h), nil
}

// EncodeBMP writes img as a 24-bit bitmap.
func EncodeBMP(w io.Writer, img *store.Image) error {
	dst := image.NewNRGBA(image.Rect(0, 0, int(img.Width), int(img.Height)))
	for x := 0; x < int(img.Width); x++ {
		for y, px := range img.Column(x) {
			dst.SetNRGBA(x, y, color.NRGBA{R: px.R, G: px.G, B: px.B, A: 0xFF})
		}
	}
	return bmp.Encode(w, dst)
}

func fit(data []byte, w, h int) *store.Image {
	tw, th := w, h
	if tw > store.MaxImageWidth {
		tw = store.MaxImageWidth
	}
	if th > store.MaxImageHeight {
		th = store.MaxImageHeight
	}
	img := new(store.Image)
	store.Resample(img, data, w, h, tw, th)
	return img
}

// FS stores images as files in one directory. Names ending in .bmp are
// read and written as bitmaps, everything else as POV1.
type FS struct {
	Dir string
}

// NewFS creates dir if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	return &FS{Dir: dir}, nil
}

func isBMP(name string) bool { return strings.EqualFold(filepath.Ext(name), ".bmp") }

func (s *FS) path(name string) (string, error) {
	if !ValidName(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.Dir, name), nil
}

func (s *FS) Save(name string, img *store.Image) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if isBMP(name) {
		err = EncodeBMP(&buf, img)
	} else {
		err = EncodePOV(&buf, img)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *FS) Load(name string) (*store.Image, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	defer f.Close()
	if isBMP(name) {
		return DecodeBMP(f)
	}
	return DecodePOV(f)
}

// List returns the stored names, sorted.
func (s *FS) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && ValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FS) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Info reads only the header of name: the POV1 header or the bitmap config.
func (s *FS) Info(name string) (Info, error) {
	p, err := s.path(name)
	if err != nil {
		return Info{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("info %s: %w", name, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("info %s: %w", name, err)
	}
	info := Info{Size: st.Size()}
	if isBMP(name) {
		cfg, err := bmp.DecodeConfig(f)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		info.Width, info.Height = uint16(cfg.Width), uint16(cfg.Height)
		return info, nil
	}
	var h Header
	if err := struc.UnpackWithOptions(f, &h, order); err != nil || h.Magic != Magic {
		return Info{}, ErrInvalidFormat
	}
	info.Width, info.Height = h.Width, h.Height
	return info, nil
}
