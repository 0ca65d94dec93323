package idl_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ojdriver/internal/idl"
	appErr "ojdriver/pkg/errors"
)

const sumSource = `
const LIMIT = 1000;
var int[] values;
function sum(int a, int b) -> int;
procedure visit(int n) callbacks { function pick(int i) -> int; };
main {
	var int a, b, c;
	read a, b;
	call sum(a, b) -> c;
	write c;
}
`

func TestCompileValid(t *testing.T) {
	iface, err := idl.Compile("sum.idl", []byte(sumSource))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !iface.Valid() || iface.Err() != nil {
		t.Fatalf("expected a valid interface, got %v", iface.Diagnostics())
	}
	if sig := iface.Function("sum"); sig == nil || !sig.ReturnsValue || len(sig.Parameters) != 2 {
		t.Fatalf("unexpected signature %+v", sig)
	}
	if iface.Function("missing") != nil {
		t.Fatalf("expected no signature for an unknown name")
	}
}

func TestMetadata(t *testing.T) {
	iface, err := idl.Compile("sum.idl", []byte(sumSource))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	data, err := iface.Metadata().JSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]interface{}{
		"constants":       []interface{}{map[string]interface{}{"name": "LIMIT", "value": 1000.0}},
		"globalVariables": []interface{}{map[string]interface{}{"name": "values", "dimensions": 1.0}},
		"functions": []interface{}{
			map[string]interface{}{
				"name": "sum",
				"parameters": []interface{}{
					map[string]interface{}{"name": "a", "dimensions": 0.0},
					map[string]interface{}{"name": "b", "dimensions": 0.0},
				},
				"returnsValue": true,
			},
			map[string]interface{}{
				"name":         "visit",
				"parameters":   []interface{}{map[string]interface{}{"name": "n", "dimensions": 0.0}},
				"returnsValue": false,
				"callbacks": []interface{}{
					map[string]interface{}{
						"name":         "pick",
						"parameters":   []interface{}{map[string]interface{}{"name": "i", "dimensions": 0.0}},
						"returnsValue": true,
					},
				},
			},
		},
		"callbacks":   []interface{}{},
		"diagnostics": []interface{}{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileInvalid(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		kind     string
		runnable bool
	}{
		{
			name:     "data flow only",
			src:      `main { var int a; write a; }`,
			kind:     "VARIABLE_NOT_INITIALIZED",
			runnable: true,
		},
		{
			name:     "never breaks",
			src:      `var int g; main { loop { write g; } }`,
			kind:     "INFINITE_LOOP",
			runnable: true,
		},
		{
			name: "undeclared",
			src:  `main { write a; }`,
			kind: "VARIABLE_NOT_DECLARED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iface, err := idl.Compile("bad.idl", []byte(tt.src))
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if iface.Valid() {
				t.Fatalf("expected an invalid interface")
			}
			if iface.Runnable() != tt.runnable {
				t.Fatalf("Runnable() = %v, want %v", iface.Runnable(), tt.runnable)
			}
			if !appErr.Is(iface.Err(), appErr.InterfaceInvalid) {
				t.Fatalf("expected InterfaceInvalid, got %v", iface.Err())
			}
			diags := iface.Metadata().Diagnostics
			if len(diags) != 1 || diags[0].Kind != tt.kind || diags[0].Line != 1 {
				t.Fatalf("unexpected diagnostics %+v", diags)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code appErr.ErrorCode
	}{
		{name: "syntax", src: "main { read ; }", code: appErr.ParseError},
		{name: "too large", src: "main {}" + strings.Repeat(" ", idl.MaxSourceSize), code: appErr.SourceTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idl.Compile("x.idl", []byte(tt.src))
			if got := appErr.GetCode(err); got != tt.code {
				t.Fatalf("expected code %d, got %d (%v)", tt.code, got, err)
			}
		})
	}
}
