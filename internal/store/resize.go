package store

// Resample fills dst with a w×h nearest-neighbour resample of a column-major
// RGB payload of srcW×srcH pixels. Source pixels beyond the bytes actually
// present (a truncated upload) come out black.
func Resample(dst *Image, src []byte, srcW, srcH, w, h int) {
	if w > MaxImageWidth {
		w = MaxImageWidth
	}
	if h > MaxImageHeight {
		h = MaxImageHeight
	}
	if w <= 0 || h <= 0 || srcW <= 0 || srcH <= 0 {
		*dst = Image{}
		return
	}
	for tx := 0; tx < w; tx++ {
		sx := tx * srcW / w
		for ty := 0; ty < h; ty++ {
			sy := ty * srcH / h
			off := (sx*srcH + sy) * 3
			if off+3 > len(src) {
				dst.Pixels[tx][ty] = Black
				continue
			}
			dst.Pixels[tx][ty] = RGB{src[off], src[off+1], src[off+2]}
		}
	}
	dst.Width = uint8(w)
	dst.Height = uint8(h)
	dst.Active = true
}

// AppendBytes appends the image's pixels column-major as RGB triplets.
func (img *Image) AppendBytes(b []byte) []byte {
	for c := 0; c < int(img.Width); c++ {
		for _, p := range img.Column(c) {
			b = append(b, p.R, p.G, p.B)
		}
	}
	return b
}

// Lerp blends a toward b by num/den using integer arithmetic.
func Lerp(a, b RGB, num, den int) RGB {
	if den <= 0 {
		return a
	}
	mix := func(x, y uint8) uint8 {
		return uint8(int(x) + (int(y)-int(x))*num/den)
	}
	return RGB{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B)}
}

// Scale multiplies every channel by s/255.
func (c RGB) Scale(s uint8) RGB {
	return RGB{
		R: uint8(uint16(c.R) * uint16(s) / 255),
		G: uint8(uint16(c.G) * uint16(s) / 255),
		B: uint8(uint16(c.B) * uint16(s) / 255),
	}
}
