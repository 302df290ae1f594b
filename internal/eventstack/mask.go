package eventstack

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/medit/medit-engine/internal/media"
)

// MaskCreator materializes a floating-point alpha mat from its
// serialized description. Inverted masks carry 0 inside the shape and
// 1 outside, which is what the event blend consumes.
type MaskCreator interface {
	Materialize(w, h int, inverted bool) *media.ImageMat
}

// MaskCreatorLoader parses a mask description.
type MaskCreatorLoader func(raw json.RawMessage) (MaskCreator, error)

// shapeMask is the built-in mask creator: a circle or rectangle in
// coordinates normalized to the frame size.
type shapeMask struct {
	Shape  string  `json:"shape"`
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
	Radius float64 `json:"radius"`
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
}

// LoadMaskCreator is the default MaskCreatorLoader.
func LoadMaskCreator(raw json.RawMessage) (MaskCreator, error) {
	var m shapeMask
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("mask json: %w", ErrParseFailed)
	}
	switch m.Shape {
	case "circle", "rect":
	default:
		return nil, fmt.Errorf("mask shape %q: %w", m.Shape, ErrParseFailed)
	}
	return &m, nil
}

func (m *shapeMask) Materialize(w, h int, inverted bool) *media.ImageMat {
	mat := media.NewImageMat(w, h, 1)
	inside := float32(1)
	outside := float32(0)
	if inverted {
		inside, outside = 0, 1
	}
	switch m.Shape {
	case "circle":
		// radius is a fraction of the frame width
		r := m.Radius * float64(w)
		cx := m.CX * float64(w)
		cy := m.CY * float64(h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx := float64(x) + 0.5 - cx
				dy := float64(y) + 0.5 - cy
				if math.Sqrt(dx*dx+dy*dy) <= r {
					mat.Set(x, y, 0, inside)
				} else {
					mat.Set(x, y, 0, outside)
				}
			}
		}
	case "rect":
		for y := 0; y < h; y++ {
			fy := (float64(y) + 0.5) / float64(h)
			for x := 0; x < w; x++ {
				fx := (float64(x) + 0.5) / float64(w)
				if fx >= m.X0 && fx < m.X1 && fy >= m.Y0 && fy < m.Y1 {
					mat.Set(x, y, 0, inside)
				} else {
					mat.Set(x, y, 0, outside)
				}
			}
		}
	}
	return mat
}
