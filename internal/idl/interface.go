// Package idl compiles interface definitions: it parses the source,
// validates it and lowers it into the node tree the engine drives.
package idl

import (
	"ojdriver/internal/idl/compile"
	"ojdriver/internal/idl/sema"
	"ojdriver/internal/idl/syntax"
	appErr "ojdriver/pkg/errors"
)

// MaxSourceSize bounds the accepted source length.
const MaxSourceSize = 1 << 20

// Interface is a compiled interface definition. It is immutable and safe
// to share between sessions.
type Interface struct {
	Name    string
	File    *syntax.File
	Info    *sema.Info
	Program *compile.Program // nil unless Runnable
	meta    *Metadata
}

// Compile parses and checks src. A source that parses always yields an
// Interface, with diagnostics when it is not valid; only parse failures
// are returned as errors.
func Compile(name string, src []byte) (*Interface, error) {
	if len(src) > MaxSourceSize {
		return nil, appErr.Newf(appErr.SourceTooLarge, "%s: %d bytes exceeds the %d byte limit", name, len(src), MaxSourceSize).
			WithDetail("size", len(src))
	}
	file, err := syntax.Parse(name, src)
	if err != nil {
		return nil, err
	}
	iface := &Interface{Name: name, File: file, Info: sema.Check(file)}
	if iface.Info.Compilable() {
		prog, err := compile.Compile(file, iface.Info)
		if err != nil {
			return nil, appErr.InternalError(err)
		}
		iface.Program = prog
	}
	iface.meta = buildMetadata(iface)
	return iface, nil
}

// Valid reports whether the interface has no diagnostics.
func (i *Interface) Valid() bool { return i.Info.Valid() }

// Runnable reports whether the interface compiled. Only diagnostics about
// data flow are allowed then.
func (i *Interface) Runnable() bool { return i.Program != nil }

// Diagnostics returns the validation findings in source order.
func (i *Interface) Diagnostics() []sema.Diagnostic { return i.Info.Diagnostics }

// Metadata describes the interface for skeleton generators.
func (i *Interface) Metadata() *Metadata { return i.meta }

// Function returns the signature named name, or nil.
func (i *Interface) Function(name string) *compile.Signature {
	if i.Program == nil {
		return nil
	}
	return i.Program.Function(name)
}

// Err returns nil for a valid interface and an InterfaceInvalid error
// listing the diagnostics otherwise.
func (i *Interface) Err() error {
	if i.Valid() {
		return nil
	}
	msgs := make([]string, len(i.Info.Diagnostics))
	for k, d := range i.Info.Diagnostics {
		msgs[k] = d.String()
	}
	return appErr.Newf(appErr.InterfaceInvalid, "%s: %d diagnostics", i.Name, len(msgs)).
		WithDetail("diagnostics", msgs)
}
