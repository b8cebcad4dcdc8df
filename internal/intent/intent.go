// Package intent turns a free-form operator message into a structured
// income-change request.
package intent

import "context"

// Intent values produced by extraction.
const (
	IntentUpdateIncome = "update_income"
	IntentUnknown      = "unknown"
)

// Result is the parsed outcome of one message. Value is nil when no
// numeric income could be extracted.
type Result struct {
	Intent string
	Value  *int64
}

// Actionable reports whether the result names a concrete income change.
func (r *Result) Actionable() bool {
	return r.Intent == IntentUpdateIncome && r.Value != nil
}

// Extractor parses one operator message.
type Extractor interface {
	Extract(ctx context.Context, message string) (*Result, error)
}
