package harness

// TraceEvent records the outcome of one step in an engine-independent
// form: ids are replaced by aliases and reference keys by the alias of the
// record they point at.
type TraceEvent struct {
	Step    int              `json:"step"`
	Do      string           `json:"do"`
	Model   string           `json:"model"`
	Count   int64            `json:"count"`
	// Finds is the number of engine Find round trips the step made.
	Finds   int              `json:"finds"`
	Records []map[string]any `json:"records,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations and assertions. Empty if Pass is
	// true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
