package capture

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Transform maps coordinates in a letterboxed image back to the source frame.
type Transform struct {
	Scale float64
	PadX  int
	PadY  int
	// Source is the size of the original frame.
	Source image.Point
}

// ToSource maps a rectangle from letterbox space to source space, clipped to the frame.
func (t Transform) ToSource(r image.Rectangle) image.Rectangle {
	if t.Scale <= 0 {
		return r
	}
	conv := func(v, pad int) int {
		return int(math.Round(float64(v-pad) / t.Scale))
	}
	out := image.Rect(conv(r.Min.X, t.PadX), conv(r.Min.Y, t.PadY), conv(r.Max.X, t.PadX), conv(r.Max.Y, t.PadY))
	return out.Intersect(image.Rectangle{Max: t.Source})
}

// Letterbox resizes src to fit size while keeping its aspect ratio and pads the
// rest with black bars. The caller owns the returned Mat.
func Letterbox(src gocv.Mat, size image.Point) (gocv.Mat, Transform) {
	w, h := src.Cols(), src.Rows()
	t := Transform{Scale: 1, Source: image.Pt(w, h)}

	if w == size.X && h == size.Y {
		return src.Clone(), t
	}

	t.Scale = math.Min(float64(size.X)/float64(w), float64(size.Y)/float64(h))
	nw := int(math.Round(float64(w) * t.Scale))
	nh := int(math.Round(float64(h) * t.Scale))
	if nw > size.X {
		nw = size.X
	}
	if nh > size.Y {
		nh = size.Y
	}
	t.PadX = (size.X - nw) / 2
	t.PadY = (size.Y - nh) / 2

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(nw, nh), 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Y, size.X, src.Type())
	roi := canvas.Region(image.Rect(t.PadX, t.PadY, t.PadX+nw, t.PadY+nh))
	resized.CopyTo(&roi)
	roi.Close()

	return canvas, t
}
