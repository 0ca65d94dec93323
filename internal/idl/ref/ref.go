// Package ref is the runtime value model shared by the compiler and the
// engine: variables, references into them and the per-session bindings.
package ref

import (
	"strconv"
	"strings"
)

// Variable is a declared name. Identity is the pointer: two declarations
// with the same name are distinct variables.
type Variable struct {
	Name       string
	Dimensions int
}

func (v *Variable) String() string { return v.Name }

// Reference is the static shape of an lvalue or rvalue: a variable
// subscripted IndexCount times.
type Reference struct {
	Variable   *Variable
	IndexCount int
}

// Dimensions is the array depth left after subscripting.
func (r Reference) Dimensions() int { return r.Variable.Dimensions - r.IndexCount }

// Location is a reference with concrete index values.
type Location struct {
	Variable *Variable
	Indexes  []int64
}

// At returns the location of item i of an array location.
func (l Location) At(i int64) Location {
	idx := make([]int64, len(l.Indexes), len(l.Indexes)+1)
	copy(idx, l.Indexes)
	return Location{Variable: l.Variable, Indexes: append(idx, i)}
}

func (l Location) String() string {
	var b strings.Builder
	b.WriteString(l.Variable.Name)
	for _, i := range l.Indexes {
		b.WriteByte('[')
		b.WriteString(strconv.FormatInt(i, 10))
		b.WriteByte(']')
	}
	return b.String()
}

// Direction tells which way a value crosses the sandbox channel.
type Direction int8

const (
	NoDirection Direction = iota
	// Downward values flow from the engine to the process.
	Downward
	// Upward values flow from the process to the engine.
	Upward
)

func (d Direction) String() string {
	switch d {
	case Downward:
		return "downward"
	case Upward:
		return "upward"
	default:
		return "none"
	}
}

// Status is how much of a reference is known.
type Status int8

const (
	// Declared means the process knows the shape.
	Declared Status = iota
	// Resolved means the engine knows the value.
	Resolved
)

func (s Status) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "declared"
}

// Action describes what a node does to a reference.
type Action struct {
	Reference Reference
	Status    Status
}

// Value is a scalar or an array of values.
type Value struct {
	Int   int64
	Items []Value
	Array bool
}

func Int(v int64) Value { return Value{Int: v} }

func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Items: items, Array: true}
}

func (v Value) Equal(o Value) bool {
	if v.Array != o.Array {
		return false
	}
	if !v.Array {
		return v.Int == o.Int
	}
	if len(v.Items) != len(o.Items) {
		return false
	}
	for i := range v.Items {
		if !v.Items[i].Equal(o.Items[i]) {
			return false
		}
	}
	return true
}

// Depth is the array nesting of v.
func (v Value) Depth() int {
	if !v.Array {
		return 0
	}
	if len(v.Items) == 0 {
		return 1
	}
	return 1 + v.Items[0].Depth()
}

func (v Value) String() string {
	if !v.Array {
		return strconv.FormatInt(v.Int, 10)
	}
	parts := make([]string, len(v.Items))
	for i, it := range v.Items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
