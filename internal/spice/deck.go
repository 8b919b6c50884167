// Package spice defines the contract between the characterization engine
// and a circuit simulator, and provides an ngspice batch-mode backend.
//
// The engine never integrates circuits itself. It describes a trial as a
// Deck (includes, stimulus elements, measurement requests and one
// analysis) and reads back a Result of named measurements and vectors.
package spice

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Edge qualifies a threshold crossing.
type Edge string

const (
	EdgeRise  Edge = "rise"
	EdgeFall  Edge = "fall"
	EdgeCross Edge = "cross"
)

// Last selects the last qualifying crossing instead of the n-th.
const Last = -1

// Point is one (time, voltage) breakpoint of a piecewise-linear source.
type Point struct {
	T float64
	V float64
}

// Element is one device card: name, nodes and a value.
type Element struct {
	Name  string
	Nodes []string
	Value string
}

// Card renders the element as a deck line.
func (e Element) Card() string {
	parts := append([]string{e.Name}, e.Nodes...)
	if e.Value != "" {
		parts = append(parts, e.Value)
	}
	return strings.Join(parts, " ")
}

// DC returns a constant voltage source.
func DC(name, pos, neg string, volts float64) Element {
	return Element{Name: "V" + name, Nodes: []string{pos, neg}, Value: Num(volts)}
}

// PWL returns a piecewise-linear voltage source.
func PWL(name, pos, neg string, points []Point) Element {
	terms := make([]string, 0, 2*len(points))
	for _, p := range points {
		terms = append(terms, Num(p.T), Num(p.V))
	}
	return Element{Name: "V" + name, Nodes: []string{pos, neg}, Value: "pwl(" + strings.Join(terms, " ") + ")"}
}

// ACCurrent returns a current source with a small-signal AC magnitude,
// driving current from neg into pos.
func ACCurrent(name, pos, neg string, amps float64) Element {
	return Element{Name: "I" + name, Nodes: []string{neg, pos}, Value: "dc 0 ac " + Num(amps)}
}

// Resistor returns a resistor card.
func Resistor(name, a, b string, ohms float64) Element {
	return Element{Name: "R" + name, Nodes: []string{a, b}, Value: Num(ohms)}
}

// Capacitor returns a capacitor card.
func Capacitor(name, a, b string, farads float64) Element {
	return Element{Name: "C" + name, Nodes: []string{a, b}, Value: Num(farads)}
}

// Instance returns a subcircuit instance card.
func Instance(name string, nodes []string, subckt string) Element {
	return Element{Name: name, Nodes: nodes, Value: subckt}
}

// Crossing is one side of a TRIG/TARG measurement.
type Crossing struct {
	// Signal is the measured expression, e.g. "v(vout)".
	Signal string

	// Value is the threshold voltage.
	Value float64

	Edge Edge

	// Occurrence selects the n-th qualifying crossing (1 based), or Last.
	// Zero means the first.
	Occurrence int

	// Delay is the time before which crossings are ignored (td), in seconds.
	Delay float64
}

func (c Crossing) String() string {
	occurrence := "1"
	switch {
	case c.Occurrence == Last:
		occurrence = "LAST"
	case c.Occurrence > 0:
		occurrence = strconv.Itoa(c.Occurrence)
	}
	s := fmt.Sprintf("%s val=%s", c.Signal, Num(c.Value))
	if c.Delay > 0 {
		s += " td=" + Num(c.Delay)
	}
	return s + fmt.Sprintf(" %s=%s", c.Edge, occurrence)
}

// Measurement is a named TRIG/TARG delay measurement.
type Measurement struct {
	Name string
	Trig Crossing
	Targ Crossing
}

// Param is a named numeric .param.
type Param struct {
	Name  string
	Value float64
}

// Lib is a .lib include of one section of a model file.
type Lib struct {
	Path    string
	Section string
}

// Tran configures a transient analysis. Times are in seconds.
type Tran struct {
	Step float64
	Stop float64
}

// ACSweep configures a decade AC sweep. Frequencies are in hertz.
type ACSweep struct {
	PointsPerDecade int
	Start           float64
	Stop            float64
}

// Deck is a complete simulation input.
type Deck struct {
	Title       string
	Temperature float64
	Includes    []string
	Libs        []Lib
	Options     []string
	Params      []Param
	Elements    []Element
	Measures    []Measurement

	// Exactly one of Tran and AC is set.
	Tran *Tran
	AC   *ACSweep

	// Save lists the vectors the backend should return, e.g. "v(vin)".
	Save []string

	// Control lines are emitted in a .control block. Backends fill this in.
	Control []string
}

// Analysis returns "tran" or "ac".
func (d *Deck) Analysis() string {
	if d.AC != nil {
		return "ac"
	}
	return "tran"
}

// Add appends elements to the deck.
func (d *Deck) Add(elements ...Element) {
	d.Elements = append(d.Elements, elements...)
}

// Param returns the value of the named parameter.
func (d *Deck) Param(name string) (float64, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// SetParam sets or replaces a parameter.
func (d *Deck) SetParam(name string, value float64) {
	for i, p := range d.Params {
		if p.Name == name {
			d.Params[i].Value = value
			return
		}
	}
	d.Params = append(d.Params, Param{Name: name, Value: value})
}

// Measure appends a measurement.
func (d *Deck) Measure(m Measurement) {
	d.Measures = append(d.Measures, m)
}

// Render writes the deck as SPICE text.
func (d *Deck) Render(w io.Writer) error {
	if (d.Tran == nil) == (d.AC == nil) {
		return fmt.Errorf("deck %s: exactly one analysis must be configured", d.Title)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, ".title %s\n", d.Title)
	for _, inc := range d.Includes {
		fmt.Fprintf(bw, ".include %q\n", inc)
	}
	for _, lib := range d.Libs {
		fmt.Fprintf(bw, ".lib %q %s\n", lib.Path, lib.Section)
	}
	fmt.Fprintf(bw, ".temp %s\n", Num(d.Temperature))
	if len(d.Options) > 0 {
		fmt.Fprintf(bw, ".options %s\n", strings.Join(d.Options, " "))
	}
	for _, p := range d.Params {
		fmt.Fprintf(bw, ".param %s=%s\n", p.Name, Num(p.Value))
	}

	bw.WriteString("\n")
	for _, e := range d.Elements {
		bw.WriteString(e.Card() + "\n")
	}

	if len(d.Measures) > 0 {
		bw.WriteString("\n")
	}
	for _, m := range d.Measures {
		fmt.Fprintf(bw, ".meas %s %s trig %s targ %s\n", d.Analysis(), m.Name, m.Trig, m.Targ)
	}

	bw.WriteString("\n")
	if d.Tran != nil {
		fmt.Fprintf(bw, ".tran %s %s\n", Num(d.Tran.Step), Num(d.Tran.Stop))
	} else {
		fmt.Fprintf(bw, ".ac dec %d %s %s\n", d.AC.PointsPerDecade, Num(d.AC.Start), Num(d.AC.Stop))
	}

	if len(d.Control) > 0 {
		bw.WriteString("\n.control\n")
		for _, line := range d.Control {
			bw.WriteString(line + "\n")
		}
		bw.WriteString(".endc\n")
	}
	bw.WriteString(".end\n")
	return bw.Flush()
}

// String renders the deck, ignoring errors.
func (d *Deck) String() string {
	var sb strings.Builder
	_ = d.Render(&sb)
	return sb.String()
}

// Num formats a float the way decks and logs expect: shortest
// round-tripping representation.
func Num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
