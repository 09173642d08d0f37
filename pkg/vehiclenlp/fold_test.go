package vehiclenlp

import (
	"math"
	"testing"
)

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Toyota":               "toyota",
		"  CITROËN  C4-Cactus": "citroen c4 cactus",
		"Peugeot 208/GT":       "peugeot 208 gt",
		"Señor Ñandú":          "senor nandu",
		"Mercedes-Benz":        "mercedes benz",
		"":                     "",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompact(t *testing.T) {
	if got := Compact("CR-V"); got != "crv" {
		t.Fatalf("Compact = %q", got)
	}
}

func TestCanonicalMake(t *testing.T) {
	if got := CanonicalMake("vw"); got != "volkswagen" {
		t.Fatalf("vw -> %q", got)
	}
	if got := CanonicalMake("chevy"); got != "chevrolet" {
		t.Fatalf("chevy -> %q", got)
	}
	if got := CanonicalMake("toyota"); got != "toyota" {
		t.Fatalf("unknown alias should pass through, got %q", got)
	}
}

func TestContainsTokens(t *testing.T) {
	hay := Tokens("Corolla XEi 2.0 CVT")
	if !ContainsTokens(hay, Tokens("corolla")) {
		t.Fatal("expected containment")
	}
	if ContainsTokens(hay, Tokens("corolla cross")) {
		t.Fatal("cross is not in haystack")
	}
	if ContainsTokens(hay, nil) {
		t.Fatal("empty needle never matches")
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "ab", 2},
		{"corolla", "corola", 1},
		{"kitten", "sitting", 3},
		{"hilux", "hilux", 0},
		{"citroën", "citroen", 1},
		{"peugeot 208", "peugeot 2008", 1},
	}
	for _, tc := range cases {
		if got := Levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("Levenshtein(%q,%q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if s := Similarity("", ""); s != 1 {
		t.Fatalf("empty strings: %v", s)
	}
	s := Similarity("corolla", "corola")
	if math.Abs(s-(1-1.0/7.0)) > 1e-9 {
		t.Fatalf("unexpected similarity %v", s)
	}
	if s := Similarity("señal", "senal"); math.Abs(s-0.8) > 1e-9 {
		t.Fatalf("similarity must count runes, got %v", s)
	}
	if Similarity("abc", "xyz") != 0 {
		t.Fatal("disjoint strings should score 0")
	}
}
