package tokens

import (
	"strings"
	"testing"

	"promptbatch/internal/source"
)

func TestForText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{"empty", "", 0},
		{"short_rounds_up", "ab", 1},
		{"hundred_chars", strings.Repeat("x", 100), 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ForText(tt.text)
			if e.Expected != tt.expected {
				t.Errorf("expected = %d, want %d", e.Expected, tt.expected)
			}
			if !e.Valid() {
				t.Errorf("invalid estimate %+v", e)
			}
		})
	}
}

func TestForSourceMedia(t *testing.T) {
	image := source.Source{Kind: source.KindFile, Identifier: "a.png", MIMEType: "image/png"}
	e := ForSource(image)
	if e.Expected != 258 {
		t.Errorf("image expected = %d, want 258", e.Expected)
	}

	video := source.Source{Kind: source.KindProvider, Identifier: "v", MIMEType: "video/mp4"}
	v := ForSource(video)
	if v.Expected != 263*60 {
		t.Errorf("video expected = %d, want one minute at 263/s", v.Expected)
	}
	if v.Confidence >= e.Confidence {
		t.Error("unknown-duration video must be less confident than an image")
	}

	for _, est := range []Estimate{e, v} {
		if !est.Valid() {
			t.Errorf("invalid estimate %+v", est)
		}
	}
}

func TestSum(t *testing.T) {
	total := Sum(map[string]Estimate{
		"a": {Min: 10, Expected: 20, Max: 30, Confidence: 0.9},
		"b": {Min: 1, Expected: 2, Max: 3, Confidence: 0.4},
	})
	if total.Min != 11 || total.Expected != 22 || total.Max != 33 {
		t.Errorf("bounds = (%d, %d, %d)", total.Min, total.Expected, total.Max)
	}
	if total.Confidence != 0.4 {
		t.Errorf("confidence = %v, want the minimum 0.4", total.Confidence)
	}
	if len(total.Breakdown) != 2 {
		t.Errorf("breakdown entries = %d", len(total.Breakdown))
	}

	empty := Sum(nil)
	if empty.Confidence != 0 {
		t.Errorf("empty sum confidence = %v, want 0", empty.Confidence)
	}
}

func TestOverrideApply(t *testing.T) {
	base := Estimate{Min: 10, Expected: 20, Max: 30, Confidence: 0.8}

	widened, err := Override{WidenFactor: 2.0}.Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if widened.Max != 60 {
		t.Errorf("widened max = %d, want 60", widened.Max)
	}

	clamped, err := Override{ClampCeiling: 15}.Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if clamped.Max != 15 || clamped.Expected != 15 || clamped.Min != 10 {
		t.Errorf("clamped = %+v", clamped)
	}
	if !clamped.Valid() {
		t.Errorf("clamp broke invariants: %+v", clamped)
	}

	hard, err := Override{ClampCeiling: 5}.Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if hard.Min != 5 || hard.Expected != 5 || hard.Max != 5 {
		t.Errorf("hard clamp = %+v", hard)
	}

	if _, err := (Override{WidenFactor: 0.5}).Apply(base); err == nil {
		t.Error("widen factor below 1.0 must error")
	}
}
