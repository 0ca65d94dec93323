package ref

import "fmt"

type slot struct {
	resolved  bool
	value     int64
	allocated bool
	items     []*slot
}

func (s *slot) allocate(size int) {
	s.allocated = true
	s.items = make([]*slot, size)
	for i := range s.items {
		s.items[i] = &slot{}
	}
}

type frame struct {
	parent *frame
	slots  map[*Variable]*slot
}

// Bindings is a view on one frame of a session's binding chain. Lookups
// walk from the frame to the root. A Bindings is owned by one session and
// is not safe for concurrent use.
type Bindings struct {
	f *frame
}

// New returns root bindings holding the given variables.
func New(vars ...*Variable) *Bindings {
	b := &Bindings{f: &frame{slots: make(map[*Variable]*slot, len(vars))}}
	for _, v := range vars {
		b.Declare(v)
	}
	return b
}

// Declare adds v to the current frame. Declaring it again keeps its state.
func (b *Bindings) Declare(v *Variable) {
	if _, ok := b.f.slots[v]; !ok {
		b.f.slots[v] = &slot{}
	}
}

// Child returns bindings for a new frame owning locals.
func (b *Bindings) Child(locals []*Variable) *Bindings {
	c := &Bindings{f: &frame{parent: b.f, slots: make(map[*Variable]*slot, len(locals))}}
	for _, v := range locals {
		c.Declare(v)
	}
	return c
}

// WithIndex returns bindings for a loop iteration frame where v is i.
func (b *Bindings) WithIndex(v *Variable, i int64, locals []*Variable) *Bindings {
	c := b.Child(locals)
	c.f.slots[v] = &slot{resolved: true, value: i}
	return c
}

func (b *Bindings) slot(v *Variable) *slot {
	for f := b.f; f != nil; f = f.parent {
		if s, ok := f.slots[v]; ok {
			return s
		}
	}
	panic(&ConsistencyError{Loc: Location{Variable: v}, Msg: "variable is not bound in any frame"})
}

func (b *Bindings) find(loc Location) (*slot, error) {
	s := b.slot(loc.Variable)
	for k, i := range loc.Indexes {
		prefix := Location{Variable: loc.Variable, Indexes: loc.Indexes[:k]}
		if !s.allocated {
			return nil, &UnresolvedError{Loc: prefix}
		}
		if i < 0 || i >= int64(len(s.items)) {
			return nil, &BoundsError{Loc: prefix, Index: i, Size: len(s.items)}
		}
		s = s.items[i]
	}
	return s, nil
}

func depthOf(loc Location) int {
	d := loc.Variable.Dimensions - len(loc.Indexes)
	if d < 0 {
		panic(&ConsistencyError{Loc: loc, Msg: "too many indexes"})
	}
	return d
}

// Get returns the value at loc, which must be fully resolved.
func (b *Bindings) Get(loc Location) (Value, error) {
	s, err := b.find(loc)
	if err != nil {
		return Value{}, err
	}
	return get(s, loc, depthOf(loc))
}

func get(s *slot, loc Location, depth int) (Value, error) {
	if depth == 0 {
		if !s.resolved {
			return Value{}, &UnresolvedError{Loc: loc}
		}
		return Int(s.value), nil
	}
	if !s.allocated {
		return Value{}, &UnresolvedError{Loc: loc}
	}
	items := make([]Value, len(s.items))
	for i, it := range s.items {
		v, err := get(it, loc.At(int64(i)), depth-1)
		if err != nil {
			return Value{}, err
		}
		items[i] = v
	}
	return Array(items...), nil
}

// IsResolved reports whether Get would succeed.
func (b *Bindings) IsResolved(loc Location) bool {
	_, err := b.Get(loc)
	return err == nil
}

// Resolve stores v at loc. Storing an equal value again is a no-op; an
// array value allocates an unallocated array. A conflicting value panics
// with *ConsistencyError.
func (b *Bindings) Resolve(loc Location, v Value) error {
	s, err := b.find(loc)
	if err != nil {
		return err
	}
	resolve(s, loc, depthOf(loc), v)
	return nil
}

func resolve(s *slot, loc Location, depth int, v Value) {
	if depth == 0 {
		if v.Array {
			panic(&ConsistencyError{Loc: loc, Msg: "array value for a scalar"})
		}
		if s.resolved && s.value != v.Int {
			panic(&ConsistencyError{Loc: loc, Msg: fmt.Sprintf("resolved to %d, then to %d", s.value, v.Int)})
		}
		s.resolved, s.value = true, v.Int
		return
	}
	if !v.Array {
		panic(&ConsistencyError{Loc: loc, Msg: "scalar value for an array"})
	}
	if !s.allocated {
		s.allocate(len(v.Items))
	} else if len(s.items) != len(v.Items) {
		panic(&ConsistencyError{Loc: loc, Msg: fmt.Sprintf("allocated with size %d, resolved with %d items", len(s.items), len(v.Items))})
	}
	for i, it := range v.Items {
		resolve(s.items[i], loc.At(int64(i)), depth-1, it)
	}
}

// Compatible reports whether Resolve(loc, v) would succeed without
// conflict. It never changes the bindings.
func (b *Bindings) Compatible(loc Location, v Value) (bool, error) {
	s, err := b.find(loc)
	if err != nil {
		return false, err
	}
	return compatible(s, depthOf(loc), v), nil
}

func compatible(s *slot, depth int, v Value) bool {
	if depth == 0 {
		return !v.Array && (!s.resolved || s.value == v.Int)
	}
	if !v.Array {
		return false
	}
	if !s.allocated {
		return v.Depth() <= depth
	}
	if len(s.items) != len(v.Items) {
		return false
	}
	for i, it := range v.Items {
		if !compatible(s.items[i], depth-1, it) {
			return false
		}
	}
	return true
}

// Alloc gives the array at loc size unresolved items. Allocating the same
// size twice is a no-op; a different size panics with *ConsistencyError.
func (b *Bindings) Alloc(loc Location, size int64) error {
	s, err := b.find(loc)
	if err != nil {
		return err
	}
	if depthOf(loc) == 0 {
		panic(&ConsistencyError{Loc: loc, Msg: "alloc of a scalar"})
	}
	if size < 0 {
		return &BoundsError{Loc: loc, Index: size, Size: -1}
	}
	if s.allocated {
		if int64(len(s.items)) != size {
			panic(&ConsistencyError{Loc: loc, Msg: fmt.Sprintf("allocated with size %d, then %d", len(s.items), size)})
		}
		return nil
	}
	s.allocate(int(size))
	return nil
}

// Len returns the size of the array at loc.
func (b *Bindings) Len(loc Location) (int, error) {
	s, err := b.find(loc)
	if err != nil {
		return 0, err
	}
	if !s.allocated {
		return 0, &UnresolvedError{Loc: loc}
	}
	return len(s.items), nil
}
