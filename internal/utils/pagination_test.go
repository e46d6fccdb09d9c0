package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{"-13", 1, -13},
		{"x", 5, 5},
		{" 42", 7, 7}, // no trim
		{"999999999999999999999999", -1, -1},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestParsePage(t *testing.T) {
	cases := []struct {
		page, size       string
		wantPage, wantSz int
	}{
		{"", "", 1, 50},
		{"3", "20", 3, 20},
		{"0", "0", 1, 1},
		{"-2", "500", 1, 100},
		{"abc", "x", 1, 50},
	}
	for _, tc := range cases {
		p, s := ParsePage(tc.page, tc.size, 50, 100)
		if p != tc.wantPage || s != tc.wantSz {
			t.Fatalf("ParsePage(%q, %q) = %d, %d; want %d, %d", tc.page, tc.size, p, s, tc.wantPage, tc.wantSz)
		}
	}
}

func TestOffsetAndTotalPages(t *testing.T) {
	if got := Offset(1, 50); got != 0 {
		t.Fatalf("Offset(1,50) = %d", got)
	}
	if got := Offset(3, 20); got != 40 {
		t.Fatalf("Offset(3,20) = %d", got)
	}
	if got := Offset(0, 20); got != 0 {
		t.Fatalf("Offset(0,20) = %d", got)
	}
	for _, tc := range []struct {
		total int64
		size  int
		want  int
	}{{0, 10, 0}, {1, 10, 1}, {10, 10, 1}, {11, 10, 2}, {5, 0, 0}} {
		if got := TotalPages(tc.total, tc.size); got != tc.want {
			t.Fatalf("TotalPages(%d, %d) = %d; want %d", tc.total, tc.size, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0, 1, 50) != 1 || Clamp(99, 1, 50) != 50 || Clamp(7, 1, 50) != 7 {
		t.Fatalf("Clamp out of bounds")
	}
}
