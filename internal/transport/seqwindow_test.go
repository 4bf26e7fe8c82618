package transport

import "testing"

func TestSeqLessHandlesWraparound(t *testing.T) {
	cases := []struct {
		a, b uint16
		less bool
	}{
		{5, 10, true},
		{10, 5, false},
		{65535, 0, true},  // just past the wraparound, still "before" 0
		{0, 65535, false}, // 0 is "after" 65535
		{100, 100, false},
	}

	for _, c := range cases {
		if got := SeqLess(c.a, c.b); got != c.less {
			t.Errorf("SeqLess(%d, %d) = %v, want %v", c.a, c.b, got, c.less)
		}
	}
}

func TestSeqInWindow(t *testing.T) {
	if !SeqInWindow(10, 5) {
		t.Error("expected seq 10 to be within window of base 5")
	}
	if SeqInWindow(5, 10) {
		t.Error("expected seq 5 to be outside window ahead of base 10")
	}
	if !SeqInWindow(5, 65530) {
		t.Error("expected a seq just past wraparound to be within window")
	}
	if SeqInWindow(2000, 0) {
		t.Error("expected a seq far beyond SeqWindow to be rejected")
	}
}
