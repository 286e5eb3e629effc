package seqnum

import "testing"

func TestLessIsTotalOrder(t *testing.T) {
	cases := []struct{ a, b uint32 }{
		{0, 1},
		{1, 0},
		{5, 5},
		{0xFFFFFE, 0xFFFFFF},
		{0xFFFFFF, 0x000000},
		{0x000000, 0xFFFFFF},
		{0, half},
		{half, 0},
	}
	for _, c := range cases {
		a, b := Mask(c.a), Mask(c.b)
		lt := Less(a, b)
		gt := Less(b, a)
		eq := a == b
		n := 0
		for _, v := range []bool{lt, gt, eq} {
			if v {
				n++
			}
		}
		if n != 1 {
			t.Errorf("a=%#x b=%#x: exactly one of lt/gt/eq must hold, got lt=%v gt=%v eq=%v", a, b, lt, gt, eq)
		}
	}
}

func FuzzLessXOR(f *testing.F) {
	f.Add(uint32(0), uint32(1))
	f.Add(uint32(0xFFFFFF), uint32(0))
	f.Fuzz(func(t *testing.T, a, b uint32) {
		na, nb := Mask(a), Mask(b)
		lt := Less(na, nb)
		gt := Less(nb, na)
		eq := na == nb
		n := 0
		for _, v := range []bool{lt, gt, eq} {
			if v {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("a=%#x b=%#x: expected exactly one relation, got lt=%v gt=%v eq=%v", na, nb, lt, gt, eq)
		}
	})
}

func TestWrapAround(t *testing.T) {
	seq := Mask(0xFFFFFE)
	seq = seq.Add(1)
	if seq != 0xFFFFFF {
		t.Fatalf("expected 0xFFFFFF, got %#x", seq)
	}
	seq = seq.Add(1)
	if seq != 0 {
		t.Fatalf("expected wraparound to 0, got %#x", seq)
	}
	if !Greater(seq, Mask(0xFFFFFF)) {
		t.Fatalf("expected 0x000000 to be greater than 0xFFFFFF after wraparound")
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(Mask(10), Mask(15)); d != 5 {
		t.Fatalf("expected distance 5, got %d", d)
	}
	if d := Distance(Mask(0xFFFFFE), Mask(1)); d != 3 {
		t.Fatalf("expected wrapped distance 3, got %d", d)
	}
}
