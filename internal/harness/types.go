package harness

import "fmt"

// Outcome of a step that did not fail with a RelayError code.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// TraceEvent is one executed setup or flow step. Outcome is OutcomeOK, a
// RelayError code, or OutcomeError; Value is the decimal result of a
// successful call.
type TraceEvent struct {
	Op      string         `json:"op"`
	Args    map[string]any `json:"args"`
	Outcome string         `json:"outcome"`
	Value   string         `json:"value,omitempty"`
	Seq     int64          `json:"seq"`
}

// Result is what a scenario run observed. Pass holds while Errors is empty.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failed expectation or assertion.
func (r *Result) AddError(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}

// AddErrorf is AddError with formatting.
func (r *Result) AddErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}

func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}
