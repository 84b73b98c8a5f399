package core

import "testing"

func TestFeeCentsCorners(t *testing.T) {
	cases := []struct {
		p    int
		want uint16
	}{
		{0, 0},
		{50, 2},
		{95, 1},
		{100, 0},
	}
	for _, c := range cases {
		if got := FeeCents(c.p); got != c.want {
			t.Errorf("FeeCents(%d) = %d, want %d", c.p, got, c.want)
		}
	}
}

func TestFeeCentsOutOfRange(t *testing.T) {
	if FeeCents(101) != 0 {
		t.Fatal("FeeCents(101) should be 0 defensively")
	}
	if FeeCents(-1) != 0 {
		t.Fatal("FeeCents(-1) should be 0 defensively")
	}
}

func TestFeeCentsSymmetricAndUnimodal(t *testing.T) {
	for p := 0; p <= 100; p++ {
		if FeeCents(p) != FeeCents(100-p) {
			t.Fatalf("FeeCents(%d)=%d != FeeCents(%d)=%d, expected symmetry", p, FeeCents(p), 100-p, FeeCents(100-p))
		}
		if FeeCents(p) < 0 {
			t.Fatalf("FeeCents(%d) negative", p)
		}
	}

	max := FeeCents(50)
	for p := 0; p <= 100; p++ {
		if FeeCents(p) > max {
			t.Fatalf("FeeCents(%d)=%d exceeds max at 50 (%d)", p, FeeCents(p), max)
		}
	}
}
