package detector

import (
	"fmt"
	"image"
	"math"
	"sort"
)

// Layout is the memory order of a YOLO detection head.
type Layout int

const (
	// LayoutAttrsFirst is [1, 4+nc, N], the default ultralytics export.
	LayoutAttrsFirst Layout = iota
	// LayoutBoxesFirst is [1, N, 4+nc].
	LayoutBoxesFirst
)

// head describes the output tensor of an anchor-free YOLO model.
type head struct {
	numClasses int
	numBoxes   int
	layout     Layout
	// coordScale multiplies cx, cy, w, h. Use the input size for normalized outputs.
	coordScale float32
}

// headFromDims infers the head layout from the output tensor dimensions.
func headFromDims(dims []int, numClasses int) (head, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return head{}, fmt.Errorf("unexpected output shape %v", dims)
	}
	attrs := numClasses + 4
	switch {
	case dims[1] == attrs:
		return head{numClasses: numClasses, numBoxes: dims[2], layout: LayoutAttrsFirst, coordScale: 1}, nil
	case dims[2] == attrs:
		return head{numClasses: numClasses, numBoxes: dims[1], layout: LayoutBoxesFirst, coordScale: 1}, nil
	}
	return head{}, fmt.Errorf("output shape %v does not match %d classes", dims, numClasses)
}

// numAnchors is the number of YOLOv8 predictions for a square input.
func numAnchors(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		g := size / stride
		n += g * g
	}
	return n
}

func (h head) at(out []float32, attr, box int) float32 {
	if h.layout == LayoutAttrsFirst {
		return out[attr*h.numBoxes+box]
	}
	return out[box*(h.numClasses+4)+attr]
}

// decode turns a raw head into thresholded, NMS-filtered detections in input pixels.
func (c Config) decode(out []float32, h head, size image.Point) ([]Detection, error) {
	if want := (h.numClasses + 4) * h.numBoxes; len(out) != want {
		return nil, fmt.Errorf("invalid output size: got %d, expected %d", len(out), want)
	}

	bounds := image.Rectangle{Max: size}
	var boxes []Detection
	for i := 0; i < h.numBoxes; i++ {
		classID, prob := 0, float32(0)
		for j := 0; j < h.numClasses; j++ {
			if curr := h.at(out, 4+j, i); curr > prob {
				prob = curr
				classID = j
			}
		}
		if prob < c.Confidence {
			continue
		}

		label := c.Label(classID)
		if !c.allowed(label) {
			continue
		}

		cx := h.at(out, 0, i) * h.coordScale
		cy := h.at(out, 1, i) * h.coordScale
		w := h.at(out, 2, i) * h.coordScale
		bh := h.at(out, 3, i) * h.coordScale

		box := image.Rect(
			round(cx-w/2), round(cy-bh/2),
			round(cx+w/2), round(cy+bh/2),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}

		boxes = append(boxes, Detection{
			ClassID:    classID,
			Label:      label,
			Confidence: prob,
			Box:        box,
		})
	}

	return NMS(boxes, c.IoU), nil
}

func (c Config) allowed(label string) bool {
	if len(c.Allowed) == 0 {
		return true
	}
	for _, a := range c.Allowed {
		if a == label {
			return true
		}
	}
	return false
}

// NMS applies class-wise non-maximum suppression and returns the kept
// detections sorted by descending confidence.
func NMS(dets []Detection, threshold float32) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if IoU(sorted[i].Box, sorted[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// IoU computes the Intersection-over-Union of two boxes.
func IoU(a, b image.Rectangle) float32 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := area(inter)
	union := area(a) + area(b) - ia
	if union <= 0 {
		return 0
	}
	return float32(ia / union)
}

func area(r image.Rectangle) float64 {
	return float64(r.Dx()) * float64(r.Dy())
}

func round(v float32) int {
	return int(math.Round(float64(v)))
}
