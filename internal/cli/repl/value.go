package repl

import (
	"fmt"
	"strconv"
	"strings"

	"ojdriver/internal/idl/ref"
)

// ParseValue reads a value of the given dimensions: an integer, or a
// bracketed comma-separated list such as [1,2] or [[1],[2,3]].
func ParseValue(s string, dims int) (ref.Value, error) {
	p := &valueParser{src: strings.TrimSpace(s)}
	v, err := p.value(dims)
	if err != nil {
		return ref.Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return ref.Value{}, fmt.Errorf("unexpected %q after the value", p.src[p.pos:])
	}
	return v, nil
}

type valueParser struct {
	src string
	pos int
}

func (p *valueParser) value(dims int) (ref.Value, error) {
	p.skipSpace()
	if dims == 0 {
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] == '-' || isDigit(p.src[p.pos])) {
			p.pos++
		}
		n, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
		if err != nil {
			return ref.Value{}, fmt.Errorf("expected an integer at offset %d", start)
		}
		return ref.Int(n), nil
	}
	if !p.accept('[') {
		return ref.Value{}, fmt.Errorf("expected '[' at offset %d for a %d-dimensional array", p.pos, dims)
	}
	items := []ref.Value{}
	p.skipSpace()
	if p.accept(']') {
		return ref.Array(items...), nil
	}
	for {
		item, err := p.value(dims - 1)
		if err != nil {
			return ref.Value{}, err
		}
		items = append(items, item)
		p.skipSpace()
		if p.accept(']') {
			return ref.Array(items...), nil
		}
		if !p.accept(',') {
			return ref.Value{}, fmt.Errorf("expected ',' or ']' at offset %d", p.pos)
		}
	}
}

func (p *valueParser) accept(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *valueParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
