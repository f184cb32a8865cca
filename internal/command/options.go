package command

import (
	"time"

	"promptbatch/internal/tokens"
)

// Options carries caller-supplied per-request knobs. All fields are optional;
// the zero value means "use configured defaults".
type Options struct {
	// Cache selects the caching policy for this request.
	Cache *CachePolicy
	// Estimation conservatively adjusts the planner's token estimate.
	Estimation *tokens.Override
	// PreferArray biases the extraction chain toward array-shaped output.
	PreferArray bool
	// CacheNameOverride applies an existing provider cache by name.
	CacheNameOverride string
	// Concurrency overrides the configured fan-out bound for this request.
	Concurrency int
	// Materialize governs fetching of remote (URI) sources.
	Materialize *MaterializePolicy
}

// CachePolicy controls provider-side context caching.
type CachePolicy struct {
	// Key pins a deterministic cache key; empty derives one from content.
	Key string
	// TTL for a newly created cache; zero uses the configured default.
	TTL time.Duration
	// ReuseOnly forbids creating a new cache; only an existing one is used.
	ReuseOnly bool
	// FirstTurnOnly hints that caching pays off only on the opening turn.
	FirstTurnOnly bool
}

// MaterializePolicy restricts how remote sources may be fetched.
type MaterializePolicy struct {
	AllowedMIMEs []string
	MaxBytes     int64
	Timeout      time.Duration
	HTTPSOnly    bool
}

// Allows reports whether the policy admits the given MIME type.
func (m *MaterializePolicy) Allows(mime string) bool {
	if m == nil || len(m.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range m.AllowedMIMEs {
		if allowed == mime {
			return true
		}
	}
	return false
}
