// Package testutil builds synthetic frames for tests.
package testutil

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Frame returns a BGR frame filled with a shade derived from seed and a white square
// whose position also depends on seed, so consecutive frames differ.
func Frame(seed, width, height int) gocv.Mat {
	shade := float64((seed * 37) % 200)
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(shade, 255-shade, 64, 0), height, width, gocv.MatTypeCV8UC3)

	side := width / 8
	if side < 4 {
		side = 4
	}
	x := (seed * side) % (width - side)
	y := (seed * side / 2) % (height - side)
	gocv.Rectangle(&mat, image.Rect(x, y, x+side, y+side), color.RGBA{255, 255, 255, 0}, -1)

	return mat
}

// Frames returns n distinct frames. Release them with CloseAll.
func Frames(n, width, height int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := Frame(i, width, height)
		frames[i] = &m
	}
	return frames
}

// CloseAll releases every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
