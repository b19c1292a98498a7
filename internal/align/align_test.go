package align

import "testing"

func TestUp(t *testing.T) {
	tests := []struct {
		a, b, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{0x1001, 0x1000, 0x2000},
	}
	for _, tt := range tests {
		if got := Up(tt.a, tt.b); got != tt.want {
			t.Errorf("Up(%#x, %#x) = %#x, want %#x", tt.a, tt.b, got, tt.want)
		}
	}
	if got := Down(uint64(0x1fff), 0x1000); got != 0x1000 {
		t.Errorf("Down = %#x", got)
	}
}
