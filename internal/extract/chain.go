package extract

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"promptbatch/internal/logging"
)

// Options configures a Chain.
type Options struct {
	// Transforms replaces the builtin set. nil means Builtins(); an empty
	// non-nil slice disables all transforms (minimal projection only).
	Transforms []Transform
	// MaxRawBytes truncates oversized raw input before extraction. Zero
	// disables truncation.
	MaxRawBytes int
	// Diagnostics collects per-transform attempt details.
	Diagnostics bool
	// PreferArray biases the JSON-array transform to the front of the chain
	// without removing any other transform.
	PreferArray bool
}

// Chain applies ordered transforms to raw responses and falls back to the
// minimal projection. A Chain is immutable after construction; running it is
// pure, so extracting the same raw twice yields an identical envelope.
type Chain struct {
	transforms  []Transform
	maxRawBytes int
	diagnostics bool
}

// NewChain builds a chain with the transform order resolved once.
func NewChain(opts Options) *Chain {
	ts := opts.Transforms
	if ts == nil {
		ts = Builtins()
	}
	if opts.PreferArray {
		biased := make([]Transform, len(ts))
		copy(biased, ts)
		for i := range biased {
			if biased[i].Name == NameJSONArray {
				biased[i].Priority += 1000
			}
		}
		ts = biased
	}
	return &Chain{
		transforms:  sortTransforms(ts),
		maxRawBytes: opts.MaxRawBytes,
		diagnostics: opts.Diagnostics,
	}
}

// minimal projection confidences, by method.
var minimalConfidence = map[string]float64{
	MethodMinimalJSONArray: 0.6,
	MethodMinimalNumbered:  0.5,
	MethodMinimalLines:     0.4,
	MethodMinimalRaw:       0.3,
}

// Run extracts want answers from one raw response. It cannot fail.
func (c *Chain) Run(input any, want int) Envelope {
	start := time.Now()
	log := logging.For(logging.CategoryExtract)

	raw := normalize(input, c.maxRawBytes)
	diag := &Diagnostics{TruncatedInput: raw.Truncated}

	var answers []string
	var method string
	var confidence float64
	for _, t := range c.transforms {
		if !t.Match(raw) {
			continue
		}
		diag.Attempted = append(diag.Attempted, t.Name)
		extracted, err := tryExtract(t, raw, want)
		if err != nil {
			if diag.TransformErrors == nil {
				diag.TransformErrors = make(map[string]string)
			}
			diag.TransformErrors[t.Name] = err.Error()
			continue
		}
		if len(extracted) == 0 {
			continue
		}
		answers, method, confidence = extracted, t.Name, t.Confidence
		break
	}

	fromMinimal := false
	if method == "" {
		answers, method = minimalProjection(raw, want)
		confidence = minimalConfidence[method]
		fromMinimal = true
	}
	diag.Winner = method

	fitted, warning := fit(answers, want)
	status := StatusOK
	var warnings []string
	if warning != "" {
		warnings = append(warnings, warning)
		status = StatusPartial
		diag.ContractViolations = append(diag.ContractViolations, warning)
	}
	if fromMinimal {
		status = StatusPartial
	}

	diag.Duration = time.Since(start)
	env := Envelope{
		Status:     status,
		Answers:    fitted,
		Method:     method,
		Confidence: confidence,
		Warnings:   warnings,
	}
	if raw.Value != nil {
		env.StructuredData = raw.Value
	}
	if c.diagnostics || raw.Truncated {
		env.Diagnostics = diag
	}

	log.Debug("extraction complete",
		zap.String("method", method),
		zap.Float64("confidence", confidence),
		zap.String("status", string(status)),
		zap.Bool("truncated", raw.Truncated))
	return env
}

// RunAll extracts answers from one raw response per call. A single response
// is fanned across all prompts; multiple responses map one answer per call
// slot, index-aligned with prompts. Failed slots (nil raw) become empty
// answers with a warning, never an error.
func (c *Chain) RunAll(raws []any, want int) Envelope {
	if len(raws) <= 1 {
		var input any
		if len(raws) == 1 {
			input = raws[0]
		}
		return c.Run(input, want)
	}

	answers := make([]string, 0, len(raws))
	confidence := 1.0
	method := ""
	status := StatusOK
	var warnings []string
	var diag *Diagnostics

	for i, input := range raws {
		if input == nil {
			answers = append(answers, "")
			warnings = append(warnings, callWarning(i, "produced no response"))
			status = StatusPartial
			continue
		}
		sub := c.Run(input, 1)
		answers = append(answers, sub.Answers[0])
		if sub.Confidence < confidence {
			confidence = sub.Confidence
		}
		if method == "" {
			method = sub.Method
		}
		if sub.Status != StatusOK {
			status = StatusPartial
		}
		for _, w := range sub.Warnings {
			warnings = append(warnings, callWarning(i, w))
		}
		if diag == nil && sub.Diagnostics != nil {
			diag = sub.Diagnostics
		}
	}
	if method == "" {
		method = MethodMinimalRaw
		confidence = minimalConfidence[method]
	}

	fitted, warning := fit(answers, want)
	if warning != "" {
		warnings = append(warnings, warning)
		status = StatusPartial
	}

	return Envelope{
		Status:      status,
		Answers:     fitted,
		Method:      method,
		Confidence:  confidence,
		Warnings:    warnings,
		Diagnostics: diag,
	}
}

func callWarning(index int, msg string) string {
	return "call " + strconv.Itoa(index) + ": " + msg
}
