package engine

import (
	"ojdriver/internal/idl/compile"
	"ojdriver/internal/idl/ref"
	appErr "ojdriver/pkg/errors"
)

// locate evaluates the indexes of r.
func (x *executor) locate(r *compile.VarRef, b *ref.Bindings) (ref.Location, error) {
	loc := ref.Location{Variable: r.Variable}
	if len(r.Indexes) == 0 {
		return loc, nil
	}
	loc.Indexes = make([]int64, len(r.Indexes))
	for i, e := range r.Indexes {
		v, err := x.evalInt(e, b)
		if err != nil {
			return ref.Location{}, err
		}
		loc.Indexes[i] = v
	}
	return loc, nil
}

func (x *executor) eval(e compile.Expr, b *ref.Bindings) (ref.Value, error) {
	switch e := e.(type) {
	case *compile.Lit:
		return ref.Int(e.Value), nil
	case *compile.VarRef:
		loc, err := x.locate(e, b)
		if err != nil {
			return ref.Value{}, err
		}
		return b.Get(loc)
	}
	panic("engine: unknown expression")
}

// evalInt evaluates a scalar expression.
func (x *executor) evalInt(e compile.Expr, b *ref.Bindings) (int64, error) {
	v, err := x.eval(e, b)
	if err != nil {
		return 0, err
	}
	if v.Array {
		return 0, appErr.InterfaceErrorf("expected a scalar, got an array")
	}
	return v.Int, nil
}
