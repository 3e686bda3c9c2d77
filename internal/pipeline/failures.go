package pipeline

// FailureKind classifies per-frame failures for escalation.
type FailureKind string

// Failure kinds counted independently.
const (
	FailureCapture   FailureKind = "capture"
	FailureInference FailureKind = "inference"
	FailureRecording FailureKind = "recording"
)

// FailureTracker counts consecutive failures per kind. A success of a kind
// resets only that kind's streak.
type FailureTracker struct {
	threshold int
	streak    map[FailureKind]int
	total     map[FailureKind]int
}

// NewFailureTracker escalates once a kind fails threshold times in a row.
func NewFailureTracker(threshold int) *FailureTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &FailureTracker{
		threshold: threshold,
		streak:    make(map[FailureKind]int),
		total:     make(map[FailureKind]int),
	}
}

// Fail records a failure and reports whether the streak reached the threshold.
func (t *FailureTracker) Fail(kind FailureKind) bool {
	t.streak[kind]++
	t.total[kind]++
	return t.streak[kind] >= t.threshold
}

// Succeed clears the streak of kind.
func (t *FailureTracker) Succeed(kind FailureKind) {
	t.streak[kind] = 0
}

// Streak returns the current consecutive failure count of kind.
func (t *FailureTracker) Streak(kind FailureKind) int {
	return t.streak[kind]
}

// Total returns every failure of kind seen so far.
func (t *FailureTracker) Total(kind FailureKind) int {
	return t.total[kind]
}

// Threshold returns the configured escalation threshold.
func (t *FailureTracker) Threshold() int {
	return t.threshold
}
