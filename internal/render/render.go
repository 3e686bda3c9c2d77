// Package render draws detection overlays onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/ayusman/chilieye/internal/detector"
	"gocv.io/x/gocv"
)

// Text style of the status lines.
const (
	font      = gocv.FontHersheySimplex
	hudScale  = 1.0
	hudThick  = 2
	boxThick  = 2
	lblScale  = 0.5
	lblThick  = 1
	lblMargin = 4
)

var (
	hudColor   = color.RGBA{0, 255, 0, 0}
	labelColor = color.RGBA{255, 255, 255, 0}

	// palette is indexed by class id.
	palette = []color.RGBA{
		{220, 20, 60, 0},  // antraknosa
		{50, 205, 50, 0},  // cabai_normal
		{255, 165, 0, 0},  // lalat_buah
		{30, 144, 255, 0}, // fallback colors
		{186, 85, 211, 0},
		{255, 215, 0, 0},
	}
)

// HUD carries the counters shown on every frame.
type HUD struct {
	FPS       float64
	Inference time.Duration
}

// ClassColor returns the box color for a class id.
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Render returns a copy of frame with boxes, labels and the HUD drawn on it.
// frame is not modified. The caller owns the returned Mat.
func Render(frame gocv.Mat, dets []detector.Detection, hud HUD) gocv.Mat {
	out := frame.Clone()

	for _, d := range dets {
		drawDetection(&out, d)
	}

	gocv.PutText(&out, fmt.Sprintf("FPS: %.1f", hud.FPS), image.Pt(10, 30), font, hudScale, hudColor, hudThick)
	gocv.PutText(&out, fmt.Sprintf("Inference: %dms", hud.Inference.Milliseconds()), image.Pt(10, 70), font, hudScale, hudColor, hudThick)

	return out
}

func drawDetection(img *gocv.Mat, d detector.Detection) {
	c := ClassColor(d.ClassID)
	gocv.Rectangle(img, d.Box, c, boxThick)

	text := Caption(d)
	size := gocv.GetTextSize(text, font, lblScale, lblThick)

	// Caption sits above the box, or inside it when the box touches the top edge.
	top := d.Box.Min.Y - size.Y - 2*lblMargin
	if top < 0 {
		top = d.Box.Min.Y
	}
	bg := image.Rect(d.Box.Min.X, top, d.Box.Min.X+size.X+2*lblMargin, top+size.Y+2*lblMargin)
	gocv.Rectangle(img, bg, c, -1)
	gocv.PutText(img, text, image.Pt(bg.Min.X+lblMargin, bg.Max.Y-lblMargin), font, lblScale, labelColor, lblThick)
}

// Caption is the label drawn next to a box.
func Caption(d detector.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}
