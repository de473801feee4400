package scoring

import (
	"math"
	"testing"
	"time"
)

func TestTrust(t *testing.T) {
	t.Run("SourceWeights", func(t *testing.T) {
		cases := map[string]float64{
			"user_explicit": 1.0,
			"system":        0.95,
			"tool_output":   0.85,
			"user_implicit": 0.7,
			"document":      0.6,
			"inference":     0.5,
			"unknown":       0.5,
		}
		for source, want := range cases {
			got := Trust(source, 1, 0, 0, 0)
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("Trust(%q) = %f, want %f", source, got, want)
			}
		}
	})

	t.Run("CorroborationBonus", func(t *testing.T) {
		base := Trust("inference", 1, 0, 0, 0)
		boosted := Trust("inference", 3, 0, 0, 0)
		if math.Abs(boosted-base-0.10) > 1e-9 {
			t.Errorf("Expected +0.10 for corroboration 3, got %f", boosted-base)
		}

		// Bonus caps at 0.2
		capped := Trust("inference", 100, 0, 0, 0)
		if math.Abs(capped-base-0.2) > 1e-9 {
			t.Errorf("Expected corroboration bonus cap 0.2, got %f", capped-base)
		}
	})

	t.Run("Feedback", func(t *testing.T) {
		up := Trust("inference", 1, 3, 1, 0)
		want := 0.5 + (3.0-1.0)/(3.0+1.0)*0.15
		if math.Abs(up-want) > 1e-9 {
			t.Errorf("Expected %f, got %f", want, up)
		}

		down := Trust("inference", 1, 0, 4, 0)
		if math.Abs(down-(0.5-0.15)) > 1e-9 {
			t.Errorf("Expected 0.35 for all-dispute feedback, got %f", down)
		}
	})

	t.Run("AgePenalty", func(t *testing.T) {
		year := 365 * 24 * time.Hour
		old := Trust("user_explicit", 1, 0, 0, year)
		if math.Abs(old-0.9) > 1e-6 {
			t.Errorf("Expected 0.9 after one year, got %f", old)
		}

		// Penalty caps at 0.1 no matter the age
		ancient := Trust("user_explicit", 1, 0, 0, 10*year)
		if math.Abs(ancient-0.9) > 1e-6 {
			t.Errorf("Expected age penalty cap 0.1, got trust %f", ancient)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		if got := Trust("user_explicit", 100, 10, 0, 0); got > 1 {
			t.Errorf("Trust exceeded 1: %f", got)
		}
		if got := Trust("inference", 1, 0, 100, 10*365*24*time.Hour); got < 0 {
			t.Errorf("Trust below 0: %f", got)
		}
	})
}

func TestConfidence(t *testing.T) {
	if got := Confidence(0.123456); got != 0.1235 {
		t.Errorf("Expected 0.1235, got %f", got)
	}
	if got := Confidence(1.0); got != 1.0 {
		t.Errorf("Expected 1.0, got %f", got)
	}
}

func TestStrength(t *testing.T) {
	t.Run("FreshMemoryLegacy", func(t *testing.T) {
		got := Strength(DecayInput{Importance: 1.0}, 30)
		if math.Abs(got-1.0) > 1e-9 {
			t.Errorf("Expected 1.0 for a fresh max-importance memory, got %f", got)
		}
	})

	t.Run("LegacyHalfLife", func(t *testing.T) {
		got := Strength(DecayInput{Importance: 1.0, AgeDays: 30, TouchDays: 30}, 30)
		want := math.Min(1, 1.0*0.5*math.Pow(0.5, 0.5))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("Expected %f, got %f", want, got)
		}
	})

	t.Run("CategoryWeight", func(t *testing.T) {
		fact := Strength(DecayInput{Importance: 0.5, Category: "fact", AgeDays: 60, TouchDays: 60}, 30)
		pref := Strength(DecayInput{Importance: 0.5, Category: "preference", AgeDays: 60, TouchDays: 60}, 30)
		if pref <= fact {
			t.Errorf("Preference should outlast fact: pref=%f fact=%f", pref, fact)
		}
	})

	t.Run("LinkBonus", func(t *testing.T) {
		alone := Strength(DecayInput{Importance: 0.2}, 30)
		linked := Strength(DecayInput{Importance: 0.2, LinkCount: 4}, 30)
		if math.Abs(linked-alone-0.2) > 1e-9 {
			t.Errorf("Expected +0.2 for 4 links, got %f", linked-alone)
		}

		many := Strength(DecayInput{Importance: 0.2, LinkCount: 100}, 30)
		if math.Abs(many-alone-0.3) > 1e-9 {
			t.Errorf("Expected link bonus cap 0.3, got %f", many-alone)
		}
	})

	t.Run("StabilityMode", func(t *testing.T) {
		got := Strength(DecayInput{Importance: 1.0, Stability: 2.0, TouchDays: 1}, 30)
		want := math.Min(1, math.Exp(-0.5*1/2.0))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("Expected %f, got %f", want, got)
		}
	})

	t.Run("StabilityIgnoresAccessBonus", func(t *testing.T) {
		base := Strength(DecayInput{Importance: 0.5, Stability: 1, TouchDays: 5}, 30)
		accessed := Strength(DecayInput{Importance: 0.5, Stability: 1, TouchDays: 5, AccessCount: 50}, 30)
		if base != accessed {
			t.Errorf("SM-2 mode should not apply access bonus: %f vs %f", base, accessed)
		}
	})
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.text); got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}
