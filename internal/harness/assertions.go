package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// AssertionError describes a failed expectation or assertion.
type AssertionError struct {
	Where    string // "step 3 (find User)" or "final_state User"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s failed\n", e.Where)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// checkStep compares a step's outcome with its expectation. A step without
// an expectation must succeed.
func (h *Harness) checkStep(i int, s Step, ev TraceEvent, err error) []string {
	where := fmt.Sprintf("step %d (%s %s)", i+1, s.Do, s.Model)
	fail := func(expected, actual string) []string {
		return []string{(&AssertionError{Where: where, Expected: expected, Actual: actual}).Error()}
	}

	want := s.Expect
	if want == nil {
		want = &Expect{}
	}
	if want.Error != "" {
		if err == nil {
			return fail("error "+want.Error, "success")
		}
		if ev.Error != want.Error {
			return fail("error "+want.Error, err.Error())
		}
		return nil
	}
	if err != nil {
		return fail("success", err.Error())
	}

	var errs []string
	if want.Nil && len(ev.Records) > 0 {
		errs = append(errs, fail("no record", fmt.Sprintf("%d records", len(ev.Records)))...)
	}
	if want.Count != nil && int64(*want.Count) != ev.Count {
		errs = append(errs, fail(fmt.Sprintf("count %d", *want.Count), fmt.Sprintf("count %d", ev.Count))...)
	}
	if want.Records != nil {
		if len(want.Records) != len(ev.Records) {
			errs = append(errs, fail(fmt.Sprintf("%d records", len(want.Records)), fmt.Sprintf("%d records: %v", len(ev.Records), ev.Records))...)
			return errs
		}
		for j := range want.Records {
			if !matchSubset(want.Records[j], ev.Records[j]) {
				errs = append(errs, fail(fmt.Sprintf("record %d to contain %v", j, want.Records[j]), fmt.Sprintf("%v", ev.Records[j]))...)
			}
		}
	}
	return errs
}

// evaluateAssertions checks final state.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	where := a.Type + " " + a.Model
	m, ok := h.models.Model(a.Model)
	if !ok {
		return &AssertionError{Where: where, Expected: "registered model", Actual: "unknown model"}
	}
	filter, err := h.resolveMap(a.Where)
	if err != nil {
		return &AssertionError{Where: where, Expected: "valid where", Actual: err.Error()}
	}
	q := m.Filter(filter)

	switch a.Type {
	case AssertFinalCount:
		n, err := q.Count(ctx)
		if err != nil {
			return &AssertionError{Where: where, Expected: fmt.Sprintf("count %d", a.Count), Actual: err.Error()}
		}
		if n != int64(a.Count) {
			return &AssertionError{Where: where, Expected: fmt.Sprintf("count %d", a.Count), Actual: fmt.Sprintf("count %d", n)}
		}
	case AssertFinalState:
		r, err := q.First(ctx)
		if err != nil {
			return &AssertionError{Where: where, Expected: fmt.Sprintf("%v", a.Expect), Actual: err.Error()}
		}
		if r == nil {
			return &AssertionError{Where: where, Expected: fmt.Sprintf("%v", a.Expect), Actual: "no matching record"}
		}
		got := h.canonical(r)
		if !matchSubset(a.Expect, got) {
			return &AssertionError{Where: where, Expected: fmt.Sprintf("%v", a.Expect), Actual: fmt.Sprintf("%v", got)}
		}
	}
	return nil
}

// matchSubset reports whether every key of want is present in got with a
// matching value. Maps match recursively as subsets, lists element-wise.
// Scalars are compared after a JSON round trip so YAML ints match engine
// int64s and floats.
func matchSubset(want, got any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok || !matchSubset(wv, gv) {
				return false
			}
		}
		return true
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !matchSubset(w[i], g[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(normalize(want), normalize(got))
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
