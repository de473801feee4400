package similarity

import (
	"errors"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	t.Run("IdenticalVectors", func(t *testing.T) {
		sim, err := Cosine([]float64{1, 2, 3}, []float64{1, 2, 3})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if math.Abs(sim-1.0) > 1e-9 {
			t.Errorf("Expected similarity 1.0, got %f", sim)
		}
	})

	t.Run("OrthogonalVectors", func(t *testing.T) {
		sim, err := Cosine([]float64{1, 0}, []float64{0, 1})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sim != 0 {
			t.Errorf("Expected similarity 0, got %f", sim)
		}
	})

	t.Run("OppositeVectors", func(t *testing.T) {
		sim, err := Cosine([]float64{1, 1}, []float64{-1, -1})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if math.Abs(sim+1.0) > 1e-9 {
			t.Errorf("Expected similarity -1.0, got %f", sim)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := Cosine([]float64{1, 2}, []float64{1, 2, 3})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("ZeroMagnitude", func(t *testing.T) {
		sim, err := Cosine([]float64{0, 0}, []float64{1, 2})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sim != 0 {
			t.Errorf("Expected similarity 0 for zero vector, got %f", sim)
		}
	})
}

func TestTokenize(t *testing.T) {
	t.Run("LowercasesAndStrips", func(t *testing.T) {
		tokens := Tokenize("Database SECURITY, vulnerability!")
		want := []string{"database", "security", "vulnerability"}
		assertTokens(t, tokens, want)
	})

	t.Run("DropsStopWordsAndShortTokens", func(t *testing.T) {
		tokens := Tokenize("the quick brown fox is a b c")
		want := []string{"quick", "brown", "fox"}
		assertTokens(t, tokens, want)
	})

	t.Run("DeduplicatesPreservingOrder", func(t *testing.T) {
		tokens := Tokenize("alpha beta alpha gamma beta")
		want := []string{"alpha", "beta", "gamma"}
		assertTokens(t, tokens, want)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		if tokens := Tokenize(""); len(tokens) != 0 {
			t.Errorf("Expected no tokens, got %v", tokens)
		}
	})

	t.Run("AllStopWords", func(t *testing.T) {
		if tokens := Tokenize("the is a of"); len(tokens) != 0 {
			t.Errorf("Expected no tokens, got %v", tokens)
		}
	})

	t.Run("NumbersKept", func(t *testing.T) {
		tokens := Tokenize("version 42 shipped")
		want := []string{"version", "42", "shipped"}
		assertTokens(t, tokens, want)
	})
}

func assertTokens(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %d tokens %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Token %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
