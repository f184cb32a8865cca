// Package tokens provides heuristic token estimation for prompts and sources.
// Estimates are closed ranges with a confidence; they combine by summing
// bounds and taking the minimum confidence.
package tokens

import (
	"fmt"

	"promptbatch/internal/source"
)

// Heuristic ratios. Text averages roughly four characters per token; binary
// media is charged per provider-documented fixed rates instead.
const (
	charsPerToken = 4

	// Per-unit media rates (Gemini file API accounting).
	tokensPerImage       = 258
	tokensPerVideoSecond = 263
	tokensPerAudioSecond = 32
)

// Estimate is a closed token-count range with a confidence in [0,1].
type Estimate struct {
	Min        int
	Expected   int
	Max        int
	Confidence float64
	Breakdown  map[string]Estimate
}

// Valid reports whether the range and confidence invariants hold.
func (e Estimate) Valid() bool {
	return e.Min >= 0 && e.Min <= e.Expected && e.Expected <= e.Max &&
		e.Confidence >= 0 && e.Confidence <= 1
}

// ForText estimates tokens for plain text. Tight bounds, high confidence.
func ForText(text string) Estimate {
	expected := len(text) / charsPerToken
	if len(text) > 0 && expected == 0 {
		expected = 1
	}
	return Estimate{
		Min:        expected * 8 / 10,
		Expected:   expected,
		Max:        expected*12/10 + 1,
		Confidence: 0.8,
	}
}

// ForSource estimates tokens for one source without loading its content.
// Size-declared text-like sources use the character ratio; media uses fixed
// per-unit rates with wide bounds; unknown sizes produce a low-confidence
// guess rather than an error.
func ForSource(s source.Source) Estimate {
	switch {
	case s.Kind == source.KindText || isTextMIME(s.MIMEType):
		expected := int(s.SizeBytes) / charsPerToken
		if s.SizeBytes > 0 && expected == 0 {
			expected = 1
		}
		conf := 0.7
		if s.SizeBytes == 0 {
			// No declared size; charge a nominal page of text.
			expected = 256
			conf = 0.3
		}
		return Estimate{Min: expected / 2, Expected: expected, Max: expected * 2, Confidence: conf}
	case hasPrefixMIME(s.MIMEType, "image/"):
		return Estimate{Min: tokensPerImage, Expected: tokensPerImage, Max: tokensPerImage * 2, Confidence: 0.6}
	case hasPrefixMIME(s.MIMEType, "video/"):
		// Duration unknown; assume one minute, wide bounds.
		exp := tokensPerVideoSecond * 60
		return Estimate{Min: tokensPerVideoSecond, Expected: exp, Max: exp * 10, Confidence: 0.2}
	case hasPrefixMIME(s.MIMEType, "audio/"):
		exp := tokensPerAudioSecond * 60
		return Estimate{Min: tokensPerAudioSecond, Expected: exp, Max: exp * 10, Confidence: 0.2}
	default:
		// Binary blob: bytes/4 like text but with low confidence.
		expected := int(s.SizeBytes) / charsPerToken
		if expected == 0 {
			expected = 512
		}
		return Estimate{Min: expected / 4, Expected: expected, Max: expected * 4, Confidence: 0.2}
	}
}

// Sum combines estimates by summing bounds. Confidence is the minimum across
// inputs (conservative rule). Named inputs land in the breakdown.
func Sum(parts map[string]Estimate) Estimate {
	total := Estimate{Confidence: 1, Breakdown: make(map[string]Estimate, len(parts))}
	if len(parts) == 0 {
		total.Confidence = 0
		return total
	}
	for name, p := range parts {
		total.Min += p.Min
		total.Expected += p.Expected
		total.Max += p.Max
		if p.Confidence < total.Confidence {
			total.Confidence = p.Confidence
		}
		total.Breakdown[name] = p
	}
	return total
}

// Override widens an estimate's max bound by WidenFactor (>= 1.0), then
// optionally clamps to ClampCeiling, re-clipping Expected into [Min,Max].
type Override struct {
	WidenFactor  float64
	ClampCeiling int
}

// Apply returns the adjusted estimate, or an error for a widen factor < 1.
func (o Override) Apply(e Estimate) (Estimate, error) {
	if o.WidenFactor != 0 && o.WidenFactor < 1.0 {
		return e, fmt.Errorf("widen factor %.2f must be >= 1.0", o.WidenFactor)
	}
	if o.WidenFactor > 1.0 {
		e.Max = int(float64(e.Max) * o.WidenFactor)
	}
	if o.ClampCeiling > 0 && e.Max > o.ClampCeiling {
		e.Max = o.ClampCeiling
	}
	if e.Max < e.Min {
		e.Min = e.Max
	}
	if e.Expected > e.Max {
		e.Expected = e.Max
	}
	if e.Expected < e.Min {
		e.Expected = e.Min
	}
	return e, nil
}

func isTextMIME(m string) bool {
	return hasPrefixMIME(m, "text/") || m == "application/json" || m == "application/xml" ||
		m == "application/x-yaml" || m == "application/javascript"
}

func hasPrefixMIME(m, prefix string) bool {
	return len(m) >= len(prefix) && m[:len(prefix)] == prefix
}
