package eventstack

import "github.com/medit/medit-engine/internal/media"

// Blender composites two mats through a single-channel float alpha
// mat: alpha 1 keeps the base, alpha 0 the overlay. Event filtering
// calls Blend(processed, original, combinedMask) to confine an effect
// to the union of its masks.
type Blender interface {
	Blend(base, overlay, alpha *media.ImageMat) *media.ImageMat
}

// DefaultBlender is a plain per-pixel linear blend.
type DefaultBlender struct{}

func (DefaultBlender) Blend(base, overlay, alpha *media.ImageMat) *media.ImageMat {
	if base.Empty() || overlay.Empty() || alpha.Empty() {
		return base
	}
	out := base.Clone()
	for y := 0; y < out.H; y++ {
		for x := 0; x < out.W; x++ {
			a := alpha.At(x, y, 0)
			for c := 0; c < out.Channels; c++ {
				b := base.At(x, y, c)
				o := overlay.At(x, y, c)
				out.Set(x, y, c, b*a+o*(1-a))
			}
		}
	}
	return out
}
