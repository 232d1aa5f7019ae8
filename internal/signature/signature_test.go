package signature

import "testing"

func TestCanonicalizeDeterministic(t *testing.T) {
	a := Canonicalize("Pinterest", "Boards", "Missing pins")
	b := Canonicalize("Pinterest", "Boards", "Missing pins")
	if a != b {
		t.Errorf("Canonicalize is not deterministic: %q vs %q", a, b)
	}
	if a == "" {
		t.Error("Canonicalize returned empty signature for non-empty input")
	}
}

func TestCanonicalizeCaseAndWhitespaceInsensitive(t *testing.T) {
	cases := []struct {
		area, component, descriptor string
	}{
		{"Pinterest", "Boards", "Missing Pins"},
		{"pinterest", "boards", "missing pins"},
		{"  PINTEREST  ", " Boards ", "missing   pins"},
		{"Pinterest", "Boards", "missing-pins"},
	}

	want := Canonicalize(cases[0].area, cases[0].component, cases[0].descriptor)
	for _, c := range cases {
		got := Canonicalize(c.area, c.component, c.descriptor)
		if got != want {
			t.Errorf("Canonicalize(%q, %q, %q) = %q, want %q",
				c.area, c.component, c.descriptor, got, want)
		}
	}
}

func TestCanonicalizeSynonyms(t *testing.T) {
	a := Canonicalize("pinterest", "pins", "pins lost")
	b := Canonicalize("pinterest", "pins", "pins missing")
	if a != b {
		t.Errorf("synonym variants should converge: %q vs %q", a, b)
	}
}

func TestCanonicalizeStopwords(t *testing.T) {
	a := Canonicalize("pinterest", "pins", "the pins are missing")
	b := Canonicalize("pinterest", "pins", "pins missing")
	if a != b {
		t.Errorf("stopword variants should converge: %q vs %q", a, b)
	}
}

func TestCanonicalizeEmptyInputsFallBack(t *testing.T) {
	got := Canonicalize("", "", "")
	if got != "uncategorized_general" {
		t.Errorf("empty inputs should fall back to generic signature, got %q", got)
	}

	// Partial emptiness still yields a usable signature.
	got = Canonicalize("pinterest", "", "")
	if got != "pinterest_general" {
		t.Errorf("got %q, want pinterest_general", got)
	}
}

func TestCanonicalizeComponentDeduplication(t *testing.T) {
	got := Canonicalize("pinterest", "pinterest", "missing pins")
	want := Canonicalize("pinterest", "", "missing pins")
	if got != want {
		t.Errorf("component repeating the area should be dropped: %q vs %q", got, want)
	}
}

func TestCanonicalizeBoundsDescriptor(t *testing.T) {
	short := Canonicalize("pinterest", "boards", "export fails csv download")
	long := Canonicalize("pinterest", "boards", "export fails csv download every single time since yesterday")
	if short != long {
		t.Errorf("long descriptors should be bounded: %q vs %q", short, long)
	}
}
