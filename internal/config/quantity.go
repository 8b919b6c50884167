package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Auto is the keyword that requests a derived value.
const Auto = "auto"

// Quantity is a configuration value that is either a number or "auto".
// The zero value means "not set".
type Quantity struct {
	Set   bool
	Auto  bool
	Value float64
}

// Number returns a set, explicit Quantity.
func Number(v float64) Quantity { return Quantity{Set: true, Value: v} }

// AutoQuantity returns a Quantity requesting derivation.
func AutoQuantity() Quantity { return Quantity{Set: true, Auto: true} }

func (q *Quantity) parse(s string) error {
	if s == Auto {
		*q = AutoQuantity()
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected a number or %q, got %q", Auto, s)
	}
	*q = Number(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (q *Quantity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or %q", node.Line, Auto)
	}
	if err := q.parse(node.Value); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return q.parse(s)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("expected a number or %q, got %s", Auto, data)
	}
	*q = Number(v)
	return nil
}

// String implements fmt.Stringer.
func (q Quantity) String() string {
	switch {
	case !q.Set:
		return "unset"
	case q.Auto:
		return Auto
	default:
		return strconv.FormatFloat(q.Value, 'g', -1, 64)
	}
}

// Plot selections.
const (
	PlotIO    = "io"
	PlotDelay = "delay"
	PlotPower = "power"
)

// Plots is the report selection: "all", "none" or a list of selections.
type Plots []string

func (p *Plots) fromKeyword(s string) error {
	switch s {
	case "all":
		*p = Plots{PlotIO, PlotDelay, PlotPower}
	case "none", "":
		*p = Plots{}
	default:
		return fmt.Errorf("invalid value for plots: %q", s)
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Plots) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return p.fromKeyword(node.Value)
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*p = list
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Plots) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return p.fromKeyword(s)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

// Has reports whether the selection includes kind.
func (p Plots) Has(kind string) bool {
	for _, k := range p {
		if k == kind {
			return true
		}
	}
	return false
}
