package idl

import (
	"encoding/json"

	"ojdriver/internal/idl/syntax"
)

// Metadata is the JSON view of an interface.
type Metadata struct {
	Constants       []ConstantInfo   `json:"constants"`
	GlobalVariables []VariableInfo   `json:"globalVariables"`
	Functions       []SignatureInfo  `json:"functions"`
	Callbacks       []SignatureInfo  `json:"callbacks"`
	Diagnostics     []DiagnosticInfo `json:"diagnostics"`
}

type ConstantInfo struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type VariableInfo struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

type SignatureInfo struct {
	Name         string          `json:"name"`
	Parameters   []VariableInfo  `json:"parameters"`
	ReturnsValue bool            `json:"returnsValue"`
	Callbacks    []SignatureInfo `json:"callbacks,omitempty"`
}

type DiagnosticInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
}

// JSON encodes m with stable field order.
func (m *Metadata) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func buildMetadata(i *Interface) *Metadata {
	m := &Metadata{
		Constants:       []ConstantInfo{},
		GlobalVariables: []VariableInfo{},
		Functions:       []SignatureInfo{},
		Callbacks:       []SignatureInfo{},
		Diagnostics:     []DiagnosticInfo{},
	}
	for _, k := range i.File.Constants {
		m.Constants = append(m.Constants, ConstantInfo{Name: k.Name, Value: k.Value})
	}
	for _, v := range i.File.Globals {
		for _, d := range v.Decls {
			m.GlobalVariables = append(m.GlobalVariables, VariableInfo{Name: d.Name, Dimensions: d.Dimensions})
		}
	}
	for _, f := range i.File.Functions {
		m.Functions = append(m.Functions, signatureInfo(f))
	}
	for _, cb := range i.File.Callbacks {
		m.Callbacks = append(m.Callbacks, signatureInfo(cb.Signature))
	}
	for _, d := range i.Info.Diagnostics {
		m.Diagnostics = append(m.Diagnostics, DiagnosticInfo{
			Kind:    string(d.Kind),
			Message: d.Message,
			Line:    d.Pos.Line,
			Col:     d.Pos.Col,
		})
	}
	return m
}

func signatureInfo(sig *syntax.Signature) SignatureInfo {
	s := SignatureInfo{Name: sig.Name, Parameters: []VariableInfo{}, ReturnsValue: sig.Returns}
	for _, p := range sig.Params {
		s.Parameters = append(s.Parameters, VariableInfo{Name: p.Name, Dimensions: p.Dimensions})
	}
	for _, cb := range sig.Callbacks {
		s.Callbacks = append(s.Callbacks, signatureInfo(cb))
	}
	return s
}
