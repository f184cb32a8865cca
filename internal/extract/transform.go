// Package extract turns raw provider responses into a stable Result
// Envelope. An ordered chain of transforms is tried first; a guaranteed
// minimal projection catches everything else, so extraction never fails.
package extract

import (
	"fmt"
	"sort"
)

// Transform is one pure extraction strategy: a match predicate plus an
// extractor. Transforms are value objects; the chain sorts them once per
// request by descending priority, ties broken by name.
type Transform struct {
	Name       string
	Priority   int
	Confidence float64
	Match      func(raw Raw) bool
	Extract    func(raw Raw, want int) ([]string, error)
}

// sortTransforms orders by descending priority, then ascending name.
func sortTransforms(ts []Transform) []Transform {
	out := append([]Transform(nil), ts...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// tryExtract runs a transform's extractor, converting panics into errors so
// a misbehaving transform can never take the chain down.
func tryExtract(t Transform, raw Raw, want int) (answers []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			answers = nil
			err = fmt.Errorf("transform %s panicked: %v", t.Name, r)
		}
	}()
	return t.Extract(raw, want)
}
