package pipeline

// ShouldProcess reports whether the frame at index (0-based) runs detection
// when every k-th frame is processed. k below 1 is treated as 1.
func ShouldProcess(index, k int) bool {
	if k <= 1 {
		return true
	}
	return index%k == 0
}
