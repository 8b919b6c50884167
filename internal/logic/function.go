// Package logic models the boolean functions of cell outputs and derives
// the test vectors that exercise them.
//
// Functions use verilog-style operators: | (or), ^ (xor), & (and), ! or ~
// (not), parentheses, and the constants 0 and 1.
package logic

import (
	"fmt"
	"sort"
	"strings"
)

// Transition codes used in test vectors.
const (
	Rise = "01"
	Fall = "10"
	Low  = "0"
	High = "1"
)

// Function is a parsed boolean function driving one output pin.
type Function struct {
	// Output is the pin assigned by the function.
	Output string

	// Expr is the expression text as written.
	Expr string

	root   *orExpr
	inputs []string
}

// Parse parses a bare expression such as "A&!B".
func Parse(output, expr string) (*Function, error) {
	root, err := parseExpr(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid function %q: %w", expr, err)
	}
	seen := map[string]bool{}
	root.identifiers(seen)
	inputs := make([]string, 0, len(seen))
	for name := range seen {
		inputs = append(inputs, name)
	}
	sort.Strings(inputs)
	return &Function{Output: output, Expr: strings.TrimSpace(expr), root: root, inputs: inputs}, nil
}

// ParseAssignment parses "Y=expr". The non-blocking form "Q<=expr" is
// accepted as well.
func ParseAssignment(assignment string) (*Function, error) {
	lhs, rhs, ok := strings.Cut(assignment, "=")
	if !ok {
		return nil, fmt.Errorf(`expected an expression of the form "Y=A&B", got %q`, assignment)
	}
	output := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(lhs), "<"))
	if output == "" {
		return nil, fmt.Errorf("missing output pin in %q", assignment)
	}
	return Parse(output, rhs)
}

// Inputs returns the sorted identifiers the function depends on.
func (f *Function) Inputs() []string {
	return append([]string(nil), f.inputs...)
}

// Eval evaluates the function. Identifiers missing from values are false.
func (f *Function) Eval(values map[string]bool) bool {
	return f.root.eval(values)
}

// String implements fmt.Stringer.
func (f *Function) String() string {
	return f.Output + "=" + f.Expr
}

// TestVectors returns the vectors that toggle f's output through each of
// its inputs. Vectors are laid out as inputs followed by outputs.
//
// For every input the function depends on, the remaining function inputs
// are walked in Gray-code order; each assignment under which toggling the
// input toggles the output yields a rising-input and a falling-input
// vector. Cell inputs the function ignores are held low, as are outputs
// other than f.Output.
func (f *Function) TestVectors(inputs, outputs []string) ([][]string, error) {
	inputIndex := indexOf(inputs)
	outputIndex := indexOf(outputs)
	out, ok := outputIndex[f.Output]
	if !ok {
		return nil, fmt.Errorf("function %s: output %s is not a cell output", f, f.Output)
	}
	for _, name := range f.inputs {
		if _, ok := inputIndex[name]; !ok {
			return nil, fmt.Errorf("function %s: %s is not a cell input", f, name)
		}
	}

	var vectors [][]string
	for _, target := range f.inputs {
		others := make([]string, 0, len(f.inputs)-1)
		for _, name := range f.inputs {
			if name != target {
				others = append(others, name)
			}
		}

		for i := 0; i < 1<<len(others); i++ {
			gray := i ^ (i >> 1)
			values := make(map[string]bool, len(f.inputs))
			for j, name := range others {
				values[name] = gray&(1<<j) != 0
			}

			values[target] = false
			low := f.Eval(values)
			values[target] = true
			high := f.Eval(values)
			if low == high {
				continue
			}

			for _, in := range []string{Rise, Fall} {
				vector := make([]string, len(inputs)+len(outputs))
				for k := range vector {
					vector[k] = Low
				}
				for _, name := range others {
					if values[name] {
						vector[inputIndex[name]] = High
					}
				}
				vector[inputIndex[target]] = in
				vector[len(inputs)+out] = outputCode(in, high)
				vectors = append(vectors, vector)
			}
		}
	}
	return vectors, nil
}

// outputCode returns the output transition caused by input transition in,
// given the output level when the input is high.
func outputCode(in string, highWhenSet bool) string {
	if (in == Rise) == highWhenSet {
		return Rise
	}
	return Fall
}

func indexOf(names []string) map[string]int {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx
}
