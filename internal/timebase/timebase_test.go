package timebase

import "testing"

func TestRescale(t *testing.T) {
	tests := []struct {
		name string
		v    int64
		from Ratio
		to   Ratio
		want int64
	}{
		{"ms to 90k", 1000, Millisec, Ratio{1, 90000}, 90000},
		{"90k to ms", 90000, Ratio{1, 90000}, Millisec, 1000},
		{"ms to 48k", 500, Millisec, Ratio{1, 48000}, 24000},
		{"identity", 1234, Millisec, Millisec, 1234},
		{"truncates", 1, Ratio{1, 90000}, Millisec, 0},
		{"invalid from", 100, Ratio{0, 0}, Millisec, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rescale(tt.v, tt.from, tt.to); got != tt.want {
				t.Errorf("Rescale() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFrameIndexPos(t *testing.T) {
	fr := Ratio{Num: 25, Den: 1}

	tests := []struct {
		pos     int64
		wantIdx int64
	}{
		{0, 0},
		{39, 0},
		{40, 1},
		{1000, 25},
		{999, 24},
	}

	for _, tt := range tests {
		if got := FrameIndex(tt.pos, fr); got != tt.wantIdx {
			t.Errorf("FrameIndex(%d) = %d, want %d", tt.pos, got, tt.wantIdx)
		}
	}

	if got := FramePos(25, fr); got != 1000 {
		t.Errorf("FramePos(25) = %d, want 1000", got)
	}
}

func TestMillisecToString(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "00:00:00.000"},
		{1234, "00:00:01.234"},
		{3661001, "01:01:01.001"},
		{-500, "-00:00:00.500"},
	}

	for _, tt := range tests {
		if got := MillisecToString(tt.ms); got != tt.want {
			t.Errorf("MillisecToString(%d) = %s, want %s", tt.ms, got, tt.want)
		}
	}
}

func TestNewIDMonotonic(t *testing.T) {
	a := NewID()
	b := NewID()
	if b <= a {
		t.Errorf("NewID() not monotonic: %d then %d", a, b)
	}

	BumpID(a + 1000)
	if c := NewID(); c <= a+1000 {
		t.Errorf("NewID() after BumpID = %d, want > %d", c, a+1000)
	}
}
