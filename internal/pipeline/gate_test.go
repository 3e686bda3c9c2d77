package pipeline

import "testing"

func TestShouldProcess_Count(t *testing.T) {
	for k := 1; k <= 7; k++ {
		for n := 0; n <= 50; n++ {
			got := 0
			for i := 0; i < n; i++ {
				if ShouldProcess(i, k) {
					got++
				}
			}
			want := (n + k - 1) / k
			if got != want {
				t.Errorf("k=%d n=%d: processed %d frames, want %d", k, n, got, want)
			}
		}
	}
}

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		name  string
		index int
		k     int
		want  bool
	}{
		{name: "first frame always", index: 0, k: 5, want: true},
		{name: "k=1 every frame", index: 7, k: 1, want: true},
		{name: "skipped", index: 1, k: 2, want: false},
		{name: "multiple of k", index: 6, k: 3, want: true},
		{name: "non-positive k treated as 1", index: 3, k: 0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldProcess(tt.index, tt.k); got != tt.want {
				t.Errorf("ShouldProcess(%d, %d) = %v, want %v", tt.index, tt.k, got, tt.want)
			}
		})
	}
}
