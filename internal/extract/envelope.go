package extract

import (
	"fmt"
	"time"
)

// Status is the tri-state outcome of a request.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Envelope is the stable output contract. Answers always has exactly one
// entry per user prompt; confidence is in [0,1]. An envelope is produced
// exactly once per request and never re-derived.
type Envelope struct {
	Status         Status       `json:"status"`
	Answers        []string     `json:"answers"`
	Method         string       `json:"extraction_method"`
	Confidence     float64      `json:"confidence"`
	Usage          any          `json:"usage,omitempty"`
	Metrics        *Metrics     `json:"metrics,omitempty"`
	Diagnostics    *Diagnostics `json:"diagnostics,omitempty"`
	StructuredData any          `json:"structured_data,omitempty"`
	Warnings       []string     `json:"validation_warnings,omitempty"`
}

// Metrics carries execution telemetry into the envelope. Fields are filled
// by the pipeline from the telemetry snapshot.
type Metrics struct {
	Durations        map[string]time.Duration `json:"durations,omitempty"`
	PerPrompt        any                      `json:"per_prompt,omitempty"`
	PerCallMeta      any                      `json:"per_call_meta,omitempty"`
	CacheApplication string                   `json:"cache_application,omitempty"`
	ConcurrencyUsed  int                      `json:"concurrency_used,omitempty"`
}

// Diagnostics records how extraction went when diagnostics mode is on (or
// when input truncation forces the flag out).
type Diagnostics struct {
	Attempted          []string          `json:"attempted_transforms,omitempty"`
	Winner             string            `json:"winning_transform,omitempty"`
	TransformErrors    map[string]string `json:"transform_errors,omitempty"`
	ContractViolations []string          `json:"contract_violations,omitempty"`
	TruncatedInput     bool              `json:"truncated_input,omitempty"`
	Duration           time.Duration     `json:"extraction_duration"`
}

// ErrorEnvelope renders a typed pipeline failure (configuration or
// unrecoverable provider error) as an envelope for callers that want the
// uniform shape even on failure.
func ErrorEnvelope(promptCount int, err error) Envelope {
	answers := make([]string, promptCount)
	return Envelope{
		Status:     StatusError,
		Answers:    answers,
		Method:     "none",
		Confidence: 0,
		Warnings:   []string{err.Error()},
	}
}

// fit pads answers with empty strings or truncates them so the length equals
// want. The returned warning is empty when no adjustment was needed.
func fit(answers []string, want int) ([]string, string) {
	got := len(answers)
	if got == want {
		return answers, ""
	}
	warning := fmt.Sprintf("Expected %d answers, got %d", want, got)
	if got > want {
		return answers[:want], warning
	}
	padded := make([]string, want)
	copy(padded, answers)
	return padded, warning
}
