package analyzer

import (
	"testing"
)

func TestTokenizer_Tokenize(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("A photo of the Red car, near boats!")
	expected := []string{"red", "car", "near", "boats"}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, tokens)
	}
	for i, want := range expected {
		if tokens[i] != want {
			t.Errorf("token %d: expected %q, got %q", i, want, tokens[i])
		}
	}
}

func TestTokenizer_FoldsPlurals(t *testing.T) {
	tok := NewTokenizer(true)

	tokens := tok.Tokenize("reds blues puppies boxes glass")
	expected := []string{"red", "blue", "puppy", "box", "glass"}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, tokens)
	}
	for i, want := range expected {
		if tokens[i] != want {
			t.Errorf("token %d: expected %q, got %q", i, want, tokens[i])
		}
	}
}

func TestTokenizer_ShortWordRemoval(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("a I x")
	if len(tokens) != 0 {
		t.Errorf("expected no tokens, got %v", tokens)
	}
}

func TestFoldPlural_ShortWords(t *testing.T) {
	for _, w := range []string{"bus", "gas", "yes"} {
		if got := FoldPlural(w); got != w {
			t.Errorf("expected %q unchanged, got %q", w, got)
		}
	}
}
