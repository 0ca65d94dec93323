// Package sema performs name resolution and data-flow validation of a
// parsed interface definition.
package sema

import (
	"fmt"

	"ojdriver/internal/idl/syntax"
)

// Kind identifies a class of diagnostic.
type Kind string

const (
	VariableNotDeclared        Kind = "VARIABLE_NOT_DECLARED"
	VariableNotInitialized     Kind = "VARIABLE_NOT_INITIALIZED"
	VariableNotAllocated       Kind = "VARIABLE_NOT_ALLOCATED"
	VariableRedeclared         Kind = "VARIABLE_REDECLARED"
	ArrayIndexNotValid         Kind = "ARRAY_INDEX_NOT_VALID"
	ArrayIndexWrongOrder       Kind = "ARRAY_INDEX_WRONG_ORDER"
	ExpressionNotReference     Kind = "EXPRESSION_NOT_REFERENCE"
	ExpressionNotScalar        Kind = "EXPRESSION_NOT_SCALAR"
	ExpressionNotArray         Kind = "EXPRESSION_NOT_ARRAY"
	CallWrongArgsNumber        Kind = "CALL_WRONG_ARGS_NUMBER"
	CallWrongArgsType          Kind = "CALL_WRONG_ARGS_TYPE"
	CallNoReturnExpression     Kind = "CALL_NO_RETURN_EXPRESSION"
	FunctionDoesNotReturnValue Kind = "FUNCTION_DOES_NOT_RETURN_VALUE"
	CallWrongReturnExpression  Kind = "CALL_WRONG_RETURN_EXPRESSION"
	ReturnTypeMustBeScalar     Kind = "RETURN_TYPE_MUST_BE_SCALAR"
	CallbackParametersScalars  Kind = "CALLBACK_PARAMETERS_MUST_BE_SCALARS"
	CallbackNotDeclared        Kind = "CALLBACK_NOT_DECLARED"
	CallbackAlreadyImplemented Kind = "CALLBACK_ALREADY_IMPLEMENTED"
	CallbackSignatureMismatch  Kind = "CALLBACK_SIGNATURE_MISMATCH"
	NestedCallbacks            Kind = "NESTED_CALLBACKS"
	MissingReturn              Kind = "MISSING_RETURN"
	EmptySwitchBody            Kind = "EMPTY_SWITCH_BODY"
	DuplicatedCaseLabel        Kind = "DUPLICATED_CASE_LABEL"
	InvalidCaseExpression      Kind = "INVALID_CASE_EXPRESSION"
	UnexpectedBreak            Kind = "UNEXPECTED_BREAK"
	UnexpectedContinue         Kind = "UNEXPECTED_CONTINUE"
	UnexpectedReturn           Kind = "UNEXPECTED_RETURN"
	InfiniteLoop               Kind = "INFINITE_LOOP"
	UnreachableCode            Kind = "UNREACHABLE_CODE"
	MethodNotDeclared          Kind = "METHOD_NOT_DECLARED"
	MethodRedeclared           Kind = "METHOD_REDECLARED"
)

// messages holds the format of each kind. The arguments passed to
// report must match the verbs.
var messages = map[Kind]string{
	VariableNotDeclared:        "variable %s not declared",
	VariableNotInitialized:     "variable %s used before initialization",
	VariableNotAllocated:       "variable %s used before allocation",
	VariableRedeclared:         "variable %s already declared",
	ArrayIndexNotValid:         "array index %s not valid",
	ArrayIndexWrongOrder:       "array index %s in wrong order, expecting %s",
	ExpressionNotReference:     "expecting reference, got %s",
	ExpressionNotScalar:        "expecting a scalar, got %s",
	ExpressionNotArray:         "expecting an array, got %s",
	CallWrongArgsNumber:        "method %s expects %d arguments, got %d",
	CallWrongArgsType:          "parameter %s of method %s has %d dimensions, got %s",
	CallNoReturnExpression:     "function %s returns a value",
	FunctionDoesNotReturnValue: "procedure %s does not return a value",
	CallWrongReturnExpression:  "return value of %s must be stored in a scalar variable, got %s",
	ReturnTypeMustBeScalar:     "return type of %s must be a scalar",
	CallbackParametersScalars:  "expecting scalar callback parameter, got %s",
	CallbackNotDeclared:        "method %s does not declare callback %s",
	CallbackAlreadyImplemented: "callback %s already implemented",
	CallbackSignatureMismatch:  "callback %s does not match its declaration in %s",
	NestedCallbacks:            "callback %s cannot declare callbacks",
	MissingReturn:              "callback %s must return a value",
	EmptySwitchBody:            "switch body empty",
	DuplicatedCaseLabel:        "duplicated case label %d",
	InvalidCaseExpression:      "expecting a literal, got %s",
	UnexpectedBreak:            "unexpected break, not inside loop",
	UnexpectedContinue:         "unexpected continue, not inside loop",
	UnexpectedReturn:           "unexpected return, not inside a function callback",
	InfiniteLoop:               "loop never breaks",
	UnreachableCode:            "possibly unreachable code after break / exit",
	MethodNotDeclared:          "method %s not declared",
	MethodRedeclared:           "method %s already declared",
}

// Blocking reports whether a diagnostic of kind k keeps the definition
// from being compiled. The others flag data flow that may only fail at run
// time, when a value is missing or a loop never ends.
func (k Kind) Blocking() bool {
	switch k {
	case VariableNotInitialized, VariableNotAllocated, InfiniteLoop, UnreachableCode:
		return false
	}
	return true
}

// Diagnostic is a non-fatal validation finding.
type Diagnostic struct {
	Kind    Kind       `json:"kind"`
	Message string     `json:"message"`
	Pos     syntax.Pos `json:"-"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Pos, d.Message)
}

func newDiagnostic(kind Kind, pos syntax.Pos, args ...interface{}) Diagnostic {
	format, ok := messages[kind]
	if !ok {
		panic(fmt.Sprintf("sema: no message for %s", kind))
	}
	return Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...), Pos: pos}
}
