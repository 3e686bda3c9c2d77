package detector

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// rgbBytes returns the frame as packed RGB bytes in NHWC order.
func rgbBytes(frame *gocv.Mat) []byte {
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(*frame, &rgb, gocv.ColorBGRToRGB)
	return rgb.ToBytes()
}

// fillNHWC writes normalized RGB values into dst.
func fillNHWC(rgb []byte, dst []float32) {
	for i, v := range rgb {
		dst[i] = float32(v) / 255
	}
}

// quantizeInt8 maps RGB bytes into the int8 domain of a quantized input tensor.
func quantizeInt8(rgb []byte, scale float64, zeroPoint int, dst []int8) {
	for i, v := range rgb {
		q := int(math.Round(float64(v)/255/scale)) + zeroPoint
		if q > 127 {
			q = 127
		} else if q < -128 {
			q = -128
		}
		dst[i] = int8(q)
	}
}

// fillNCHW writes a normalized planar RGB blob of size into dst.
func fillNCHW(frame *gocv.Mat, size image.Point, dst []float32) error {
	blob := gocv.BlobFromImage(*frame, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// dequantizeInt8 converts quantized output values back to floats.
func dequantizeInt8(src []int8, scale float64, zeroPoint int) []float32 {
	out := make([]float32, len(src))
	for i, q := range src {
		out[i] = float32(float64(int(q)-zeroPoint) * scale)
	}
	return out
}

// dequantizeUint8 converts quantized output values back to floats.
func dequantizeUint8(src []uint8, scale float64, zeroPoint int) []float32 {
	out := make([]float32, len(src))
	for i, q := range src {
		out[i] = float32(float64(int(q)-zeroPoint) * scale)
	}
	return out
}
