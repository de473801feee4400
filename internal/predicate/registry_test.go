package predicate

import "testing"

func TestRegistry(t *testing.T) {
	t.Run("LookupUnregisteredReturnsDefaults", func(t *testing.T) {
		r := NewRegistry()
		s := r.Lookup("timezone")
		if s.Cardinality != CardinalitySingle {
			t.Errorf("Expected single cardinality, got %s", s.Cardinality)
		}
		if s.ConflictPolicy != PolicySupersede {
			t.Errorf("Expected supersede policy, got %s", s.ConflictPolicy)
		}
		if s.Normalize != NormalizeNone {
			t.Errorf("Expected none normalizer, got %s", s.Normalize)
		}
		if s.DedupPolicy != DedupCorroborate {
			t.Errorf("Expected corroborate dedup, got %s", s.DedupPolicy)
		}
	})

	t.Run("RegisterAndLookup", func(t *testing.T) {
		r := NewRegistry()
		err := r.Register(Schema{
			Predicate:      "email",
			ConflictPolicy: PolicyRequireReview,
			Normalize:      NormalizeLowercaseTrim,
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		s := r.Lookup("email")
		if s.ConflictPolicy != PolicyRequireReview {
			t.Errorf("Expected require_review, got %s", s.ConflictPolicy)
		}
		// Unset fields take defaults
		if s.Cardinality != CardinalitySingle {
			t.Errorf("Expected default cardinality, got %s", s.Cardinality)
		}
	})

	t.Run("RejectsBadValues", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(Schema{}); err == nil {
			t.Error("Expected error for empty predicate")
		}
		if err := r.Register(Schema{Predicate: "x", Cardinality: "triple"}); err == nil {
			t.Error("Expected error for bad cardinality")
		}
		if err := r.Register(Schema{Predicate: "x", Normalize: "upper"}); err == nil {
			t.Error("Expected error for bad normalizer")
		}
		if err := r.Register(Schema{Predicate: "x", ConflictPolicy: "merge"}); err == nil {
			t.Error("Expected error for bad conflict policy")
		}
	})
}

func TestNormalizers(t *testing.T) {
	cases := []struct {
		norm  Normalizer
		in    string
		want  string
	}{
		{NormalizeNone, "  Hello ", "  Hello "},
		{NormalizeTrim, "  Hello ", "Hello"},
		{NormalizeLowercase, "Hello", "hello"},
		{NormalizeLowercaseTrim, "  Hello ", "hello"},
	}
	for _, c := range cases {
		s := Schema{Normalize: c.norm}
		if got := s.Apply(c.in); got != c.want {
			t.Errorf("%s(%q) = %q, want %q", c.norm, c.in, got, c.want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"$100", "USD 100"},
		{"$1,234.50", "USD 1234.5"},
		{"€99.90", "EUR 99.9"},
		{"£5", "GBP 5"},
		{"¥1000", "JPY 1000"},
		{"₹250", "INR 250"},
		{"USD 42", "USD 42"},
		{"usd 42", "USD 42"},
		{"42 CAD", "CAD 42"},
		{"19.99 aud", "AUD 19.99"},
		{"no money here", "no money here"},
		{"$", "$"},
		{"USD abc", "USD abc"},
		{"", ""},
	}
	s := Schema{Normalize: NormalizeCurrency}
	for _, c := range cases {
		if got := s.Apply(c.in); got != c.want {
			t.Errorf("currency(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
