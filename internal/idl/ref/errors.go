package ref

import "fmt"

// UnresolvedError reports a value that is not known yet.
type UnresolvedError struct {
	Loc Location
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s is not resolved", e.Loc)
}

// BoundsError reports an index outside the allocated range. Size is -1
// when Index is a rejected allocation size.
type BoundsError struct {
	Loc   Location
	Index int64
	Size  int
}

func (e *BoundsError) Error() string {
	if e.Size < 0 {
		return fmt.Sprintf("cannot allocate %s with size %d", e.Loc, e.Index)
	}
	return fmt.Sprintf("index %d out of bounds for %s of size %d", e.Index, e.Loc, e.Size)
}

// ConsistencyError is raised, as a panic, when the bindings are asked to
// hold two different values for one location. It means the compiled tree
// or the engine is wrong, not the peers.
type ConsistencyError struct {
	Loc Location
	Msg string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent bindings for %s: %s", e.Loc, e.Msg)
}
