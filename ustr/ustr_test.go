package ustr

import "testing"

func TestSplit(t *testing.T) {
	cases := []struct {
		in   string
		head string
		rest string
		ok   bool
	}{
		{"/a/b/c", "a", "/b/c", true},
		{"a/b", "a", "/b", true},
		{"a", "a", "", true},
		{"/", "", "", false},
		{"", "", "", false},
		{"//a", "a", "", true},
	}
	for _, c := range cases {
		h, r, ok := Ustr(c.in).Split()
		if ok != c.ok {
			t.Fatalf("Split(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
		if !ok {
			continue
		}
		if h.String() != c.head || r.String() != c.rest {
			t.Errorf("Split(%q) = (%q,%q), want (%q,%q)", c.in, h, r, c.head, c.rest)
		}
	}
}

func TestIsAbsolute(t *testing.T) {
	if !Ustr("/foo").IsAbsolute() {
		t.Error("expected absolute")
	}
	if Ustr("foo").IsAbsolute() {
		t.Error("expected relative")
	}
}
