package syntax

import (
	"strconv"
	"strings"
)

// ExprString renders an expression back to source form.
func ExprString(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch x := e.(type) {
	case *IntLit:
		b.WriteString(strconv.FormatInt(x.Value, 10))
	case *Ident:
		b.WriteString(x.Name)
	case *Subscript:
		writeExpr(b, x.Array)
		b.WriteByte('[')
		writeExpr(b, x.Index)
		b.WriteByte(']')
	default:
		panic("syntax: unknown expression type")
	}
}
