package media

// MatFlags tag an ImageMat with frame-level attributes.
type MatFlags uint32

const (
	MatFlagVideoFrame MatFlags = 1 << iota
	MatFlagFrameI
	MatFlagFrameP
	MatFlagFrameB
	MatFlagInterlaced
)

// ImageMat is the image container flowing out of the pipeline and
// through the filter engine. Pixel data is stored as float32,
// row-major with the channels of each pixel interleaved. A mat with no data is "empty" and
// represents a hole in the timeline.
type ImageMat struct {
	W        int
	H        int
	Channels int
	Data     []float32

	ColorSpace  ColorSpace
	ColorRange  ColorRange
	ColorFormat ColorFormat
	Depth       int
	Flags       MatFlags

	// Timestamp is the presentation time in seconds.
	Timestamp float64
}

// NewImageMat allocates a zero-filled mat.
func NewImageMat(w, h, channels int) *ImageMat {
	return &ImageMat{
		W:        w,
		H:        h,
		Channels: channels,
		Data:     make([]float32, w*h*channels),
	}
}

func (m *ImageMat) Empty() bool {
	return m == nil || len(m.Data) == 0
}

// Clone returns a deep copy. Readers of the player's published frame
// clone before touching pixel data.
func (m *ImageMat) Clone() *ImageMat {
	if m == nil {
		return nil
	}
	c := *m
	c.Data = make([]float32, len(m.Data))
	copy(c.Data, m.Data)
	return &c
}

// At returns the pixel value at (x, y) in channel c.
func (m *ImageMat) At(x, y, c int) float32 {
	return m.Data[(y*m.W+x)*m.Channels+c]
}

// Set writes the pixel value at (x, y) in channel c.
func (m *ImageMat) Set(x, y, c int, v float32) {
	m.Data[(y*m.W+x)*m.Channels+c] = v
}

// Fill sets every sample of the mat to v.
func (m *ImageMat) Fill(v float32) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// MaxInto merges src into dst by pixel-wise maximum. The mats must
// have identical geometry.
func MaxInto(dst, src *ImageMat) {
	if dst.Empty() || src.Empty() || len(dst.Data) != len(src.Data) {
		return
	}
	for i, v := range src.Data {
		if v > dst.Data[i] {
			dst.Data[i] = v
		}
	}
}
