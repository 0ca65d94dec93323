package sema_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ojdriver/internal/idl/sema"
	"ojdriver/internal/idl/syntax"
)

func check(t *testing.T, src string) *sema.Info {
	t.Helper()
	f, err := syntax.Parse("test.idl", []byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return sema.Check(f)
}

func kinds(t *testing.T, src string) []sema.Kind {
	t.Helper()
	var out []sema.Kind
	for _, d := range check(t, src).Diagnostics {
		out = append(out, d.Kind)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []sema.Kind
	}{
		{"not initialized", `main { var int a; write a; }`,
			[]sema.Kind{sema.VariableNotInitialized}},
		{"initialized by call", `function f() -> int; main { var int a; call f() -> a; write a; }`,
			nil},
		{"argument used before its own return", `function f(int a) -> int; main { var int a; call f(a) -> a; write a; }`,
			[]sema.Kind{sema.VariableNotInitialized}},
		{"not declared", `main { write a; }`,
			[]sema.Kind{sema.VariableNotDeclared}},
		{"not allocated", `main { var int[] a; for (i : 3) { read a[i]; } }`,
			[]sema.Kind{sema.VariableNotAllocated}},
		{"array filled by index", `main {
			var int n; var int[] A;
			read n; alloc A : n;
			for (i : n) { read A[i]; }
			for (i : n) { write A[i]; }
		}`, nil},
		{"literal lvalue index", `main { var int[] A; alloc A : 0; read A[0]; }`,
			[]sema.Kind{sema.ArrayIndexNotValid}},
		{"index in wrong order", `main {
			var int n; var int[][] M;
			read n; alloc M : n;
			for (i : n) { alloc M[i] : n; for (j : n) { read M[j][i]; } }
		}`, []sema.Kind{sema.ArrayIndexWrongOrder, sema.ArrayIndexWrongOrder}},
		{"too many subscripts", `main { var int n; read n; for (i : n) { read n[i]; } }`,
			[]sema.Kind{sema.ArrayIndexNotValid}},
		{"rvalue index only needs a value", `main { var int k; var int[] A; read k; alloc A : k; for (i : k) { read A[i]; } write A[k]; }`,
			nil},
		{"redeclared local", `main { var int a; var int a; }`,
			[]sema.Kind{sema.VariableRedeclared}},
		{"local shadows global", `var int g; main { var int g; }`,
			[]sema.Kind{sema.VariableRedeclared}},
		{"index shadows local", `main { var int i; for (i : 2) { } }`,
			[]sema.Kind{sema.VariableRedeclared}},
		{"read whole array", `main { var int[] A; read A; }`,
			[]sema.Kind{sema.ExpressionNotScalar}},
		{"alloc scalar", `main { var int a; alloc a : 3; }`,
			[]sema.Kind{sema.ExpressionNotArray}},
		{"method not declared", `main { call f(); }`,
			[]sema.Kind{sema.MethodNotDeclared}},
		{"wrong arity", `procedure f(int a); main { call f(); }`,
			[]sema.Kind{sema.CallWrongArgsNumber}},
		{"wrong argument type", `procedure f(int a[]); main { var int x; read x; call f(x); }`,
			[]sema.Kind{sema.CallWrongArgsType}},
		{"array argument", `var int[] G; procedure f(int a[]); main { call f(G); }`,
			nil},
		{"missing return expression", `function f() -> int; main { call f(); }`,
			[]sema.Kind{sema.CallNoReturnExpression}},
		{"procedure with return expression", `procedure p(); main { var int r; call p() -> r; }`,
			[]sema.Kind{sema.FunctionDoesNotReturnValue}},
		{"literal return expression", `function f() -> int; main { call f() -> 3; }`,
			[]sema.Kind{sema.CallWrongReturnExpression}},
		{"constant return expression", `const N = 2; function f() -> int; main { call f() -> N; }`,
			[]sema.Kind{sema.CallWrongReturnExpression}},
		{"array return type", `function f() -> int[]; main {}`,
			[]sema.Kind{sema.ReturnTypeMustBeScalar}},
		{"array callback parameter", `procedure p() callbacks { procedure cb(int a[]); }; main {}`,
			[]sema.Kind{sema.CallbackParametersScalars}},
		{"method redeclared", `procedure p(); procedure p(); main {}`,
			[]sema.Kind{sema.MethodRedeclared}},
		{"empty switch", `main { switch (1) { } }`,
			[]sema.Kind{sema.EmptySwitchBody}},
		{"duplicated label", `main { switch (1) { case 1 { } case 2, 1 { } } }`,
			[]sema.Kind{sema.DuplicatedCaseLabel}},
		{"label not literal", `main { var int x; read x; switch (x) { case x { } } }`,
			[]sema.Kind{sema.InvalidCaseExpression}},
		{"infinite loop", `main { loop { write 1; } }`,
			[]sema.Kind{sema.InfiniteLoop}},
		{"loop with break", `main { loop { write 1; break; } }`,
			nil},
		{"break in branch", `main { var int c; loop { read c; if (c) { break; } } }`,
			nil},
		{"break of inner loop only", `main { loop { loop { break; } } }`,
			[]sema.Kind{sema.InfiniteLoop}},
		{"break outside loop", `main { break; }`,
			[]sema.Kind{sema.UnexpectedBreak}},
		{"continue outside loop", `main { continue; }`,
			[]sema.Kind{sema.UnexpectedContinue}},
		{"break inside for inside loop", `procedure f(); main { loop { for (i : 3) { call f(); break; } break; } }`,
			nil},
		{"break inside for ends the loop", `procedure f(); main { loop { for (i : 3) { call f(); break; } } }`,
			nil},
		{"continue inside for inside loop", `main { var int c; loop { read c; for (i : 2) { continue; } if (c) { break; } } }`,
			nil},
		{"break inside for outside loop", `main { for (i : 2) { break; } }`,
			[]sema.Kind{sema.UnexpectedBreak}},
		{"continue inside for outside loop", `main { for (i : 2) { continue; } }`,
			[]sema.Kind{sema.UnexpectedContinue}},
		{"unreachable once per block", `main { exit; write 1; write 2; }`,
			[]sema.Kind{sema.UnreachableCode}},
		{"unreachable after break", `main { loop { break; write 1; } }`,
			[]sema.Kind{sema.UnreachableCode}},
		{"return in main", `main { return 1; }`,
			[]sema.Kind{sema.UnexpectedReturn}},
		{"callback returns", `function f() -> int callbacks { function cb(int x) -> int; };
			main { var int r; call f() -> r callbacks { callback cb(int x) -> int { return x; } } write r; }`,
			nil},
		{"callback misses return", `function f() -> int callbacks { function cb(int x) -> int; };
			main { var int r; call f() -> r callbacks { callback cb(int x) -> int { write x; } } write r; }`,
			[]sema.Kind{sema.MissingReturn}},
		{"return in procedure callback", `procedure p() callbacks { procedure cb(); };
			main { call p() callbacks { callback cb() { return 1; } } }`,
			[]sema.Kind{sema.UnexpectedReturn}},
		{"callback not declared", `procedure p(); main { call p() callbacks { callback q() { } } }`,
			[]sema.Kind{sema.CallbackNotDeclared}},
		{"callback implemented twice", `procedure p() callbacks { procedure cb(); };
			main { call p() callbacks { callback cb() { } callback cb() { } } }`,
			[]sema.Kind{sema.CallbackAlreadyImplemented}},
		{"callback signature mismatch", `procedure p() callbacks { procedure cb(int a); };
			callback cb() { }
			main { call p(); }`,
			[]sema.Kind{sema.CallbackSignatureMismatch}},
		{"callback sees only globals", `var int g; procedure p() callbacks { procedure cb(); };
			main { var int local; read local; call p() callbacks { callback cb() { write g; write local; } } }`,
			[]sema.Kind{sema.VariableNotDeclared}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, kinds(t, tt.src)); diff != "" {
				t.Fatalf("diagnostics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiagnosticMessages(t *testing.T) {
	diags := check(t, "main {\n  var int a;\n  var int[] A;\n  write a;\n  for (i : 1) { read A[i]; }\n}").Diagnostics
	var got []string
	for _, d := range diags {
		got = append(got, d.String())
	}
	want := []string{
		"4:9: variable a used before initialization",
		"5:22: variable A used before allocation",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

// Every combination of a branch assigning or not must leave the variable
// initialized only when all branches do.
func TestBranchJoin(t *testing.T) {
	stmt := func(assign bool) string {
		if assign {
			return "read a;"
		}
		return "write 0;"
	}
	for _, then := range []bool{false, true} {
		for _, els := range []bool{false, true} {
			for _, dflt := range []bool{false, true} {
				ifSrc := fmt.Sprintf("main { var int a, c; read c; if (c) { %s } else { %s } write a; }",
					stmt(then), stmt(els))
				switchSrc := fmt.Sprintf("main { var int a, c; read c; switch (c) { case 1 { %s } case 2 { %s } default { %s } } write a; }",
					stmt(then), stmt(els), stmt(dflt))

				name := fmt.Sprintf("then=%v/else=%v/default=%v", then, els, dflt)
				t.Run(name, func(t *testing.T) {
					wantIf := !(then && els)
					if got := len(kinds(t, ifSrc)) > 0; got != wantIf {
						t.Fatalf("if: expected uninitialized=%v, got %v", wantIf, got)
					}
					wantSwitch := !(then && els && dflt)
					if got := len(kinds(t, switchSrc)) > 0; got != wantSwitch {
						t.Fatalf("switch: expected uninitialized=%v, got %v", wantSwitch, got)
					}
				})
			}
		}
	}
}

func TestMissingElseAndDefaultJoinIncoming(t *testing.T) {
	srcs := []string{
		"main { var int a, c; read c; if (c) { read a; } write a; }",
		"main { var int a, c; read c; switch (c) { case 1 { read a; } } write a; }",
		"main { var int a, n; read n; for (i : n) { read a; } write a; }",
	}
	for _, src := range srcs {
		if diff := cmp.Diff([]sema.Kind{sema.VariableNotInitialized}, kinds(t, src)); diff != "" {
			t.Fatalf("%s: (-want +got):\n%s", src, diff)
		}
	}
}

func TestLoopExitState(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []sema.Kind
	}{
		{"initialized before the only break",
			`function f() -> int; main { var int r; loop { call f() -> r; break; } write r; }`, nil},
		{"initialized before every break",
			`main { var int r; loop { read r; if (r) { break; } break; } write r; }`, nil},
		{"one break comes first",
			`function f() -> int; main { var int r, c; loop { read c; if (c) { break; } call f() -> r; break; } write r; }`,
			[]sema.Kind{sema.VariableNotInitialized}},
		{"break inside for after the read",
			`main { var int r; loop { for (i : 2) { read r; break; } } write r; }`, nil},
		{"for may not run before the outer break",
			`main { var int r; loop { for (i : 2) { read r; break; } break; } write r; }`,
			[]sema.Kind{sema.VariableNotInitialized}},
		{"allocation leaves the loop",
			`main { var int n; var int[] A; read n; loop { alloc A : n; break; } for (i : n) { read A[i]; } }`, nil},
		{"inner loop completes before the outer break",
			`main { var int r; loop { loop { read r; break; } break; } write r; }`, nil},
		{"inner break does not leave the outer loop",
			`main { var int r, c; loop { read c; if (c) { break; } loop { read r; break; } } write r; }`,
			[]sema.Kind{sema.VariableNotInitialized}},
		{"local of the body stays inside",
			`main { loop { var int x; read x; break; } write x; }`,
			[]sema.Kind{sema.VariableNotDeclared}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, kinds(t, tt.src)); diff != "" {
				t.Fatalf("diagnostics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTerminatedBranchDoesNotReachJoin(t *testing.T) {
	src := "main { var int a, c; read c; if (c) { exit; } else { read a; } write a; }"
	if got := kinds(t, src); len(got) != 0 {
		t.Fatalf("expected no diagnostics, got %v", got)
	}
}

func TestCheckRecordsResolution(t *testing.T) {
	src := `
var int g;
procedure p(int x) callbacks { procedure cb(int v); procedure other(); };
callback cb(int v) { write v; }
main {
	for (i : g) { call p(i) callbacks { callback other() { } } }
}
`
	info := check(t, src)
	if !info.Valid() {
		t.Fatalf("unexpected diagnostics %v", info.Diagnostics)
	}
	if len(info.Globals) != 1 || info.Globals[0].Kind != sema.SymGlobal {
		t.Fatalf("expected one global symbol")
	}
	if len(info.Indexes) != 1 {
		t.Fatalf("expected one index symbol, got %d", len(info.Indexes))
	}
	var impls []*syntax.CallbackDecl
	for _, v := range info.Implementations {
		impls = v
	}
	if len(impls) != 2 {
		t.Fatalf("expected two implementations, got %d", len(impls))
	}
	if impls[0] != info.Callbacks["cb"] {
		t.Fatalf("expected top-level callback for cb")
	}
	if impls[1] == nil || impls[1].Signature.Name != "other" {
		t.Fatalf("expected inline callback for other")
	}
}
