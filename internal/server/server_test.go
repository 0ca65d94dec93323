package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ojdriver/internal/cache"
	"ojdriver/internal/server"
	appErr "ojdriver/pkg/errors"
)

const sumIDL = `
function sum(int a, int b) -> int;
main {
	var int a, b, c;
	read a, b;
	call sum(a, b) -> c;
	write c;
}`

type envelope struct {
	Code    appErr.ErrorCode       `json:"code"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Details map[string]interface{} `json:"details"`
	TraceID string                 `json:"trace_id"`
}

func newRouter(opts server.RouterOptions) (*gin.Engine, *cache.Compiler) {
	gin.SetMode(gin.TestMode)
	compiler := cache.NewCompiler(16, 0)
	return server.NewRouter(server.NewHandler(server.HandlerConfig{Compiler: compiler}), opts), compiler
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	var resp envelope
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return rec, resp
}

func script(tokens string) string {
	return strings.ReplaceAll(tokens, ",", "\n") + "\n"
}

func TestCompile(t *testing.T) {
	router, compiler := newRouter(server.RouterOptions{})
	cases := []struct {
		name   string
		body   interface{}
		status int
		code   appErr.ErrorCode
		valid  bool
		diags  int
	}{
		{name: "valid", body: server.CompileRequest{Name: "sum.idl", Source: sumIDL}, status: http.StatusOK, valid: true},
		{name: "cached", body: server.CompileRequest{Name: "sum.idl", Source: sumIDL}, status: http.StatusOK, valid: true},
		{name: "diagnostics", body: server.CompileRequest{Source: "main { var int a; write a; }"}, status: http.StatusOK, diags: 1},
		{name: "parse error", body: server.CompileRequest{Source: "main { read ; }"}, status: http.StatusBadRequest, code: appErr.ParseError},
		{name: "missing source", body: map[string]string{"name": "x.idl"}, status: http.StatusBadRequest, code: appErr.InvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := do(t, router, http.MethodPost, "/api/v1/compile", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, resp.Message)
			}
			if resp.Code != tc.code && !(tc.code == 0 && resp.Code == appErr.Success) {
				t.Fatalf("expected code %d, got %d", tc.code, resp.Code)
			}
			if resp.TraceID == "" {
				t.Fatalf("expected a trace id")
			}
			if rec.Code != http.StatusOK {
				return
			}
			var got server.CompileResponse
			if err := json.Unmarshal(resp.Data, &got); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if got.Valid != tc.valid || len(got.Metadata.Diagnostics) != tc.diags {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
	if st := compiler.Stats(); st.Hits != 1 {
		t.Fatalf("expected one cache hit, got %+v", st)
	}
}

func TestPreflight(t *testing.T) {
	router, _ := newRouter(server.RouterOptions{})
	seven := "7\n"
	cases := []struct {
		name   string
		req    server.PreflightRequest
		status int
		code   appErr.ErrorCode
		end    string
		node   string
	}{
		{
			name:   "synthetic sandbox",
			req:    server.PreflightRequest{Source: sumIDL, DriverScript: script("main_begin,0,call,sum,2,3,4,1,0,exit")},
			status: http.StatusOK,
			end:    "main_end",
		},
		{
			name: "scripted sandbox",
			req: server.PreflightRequest{
				Source:        sumIDL,
				DriverScript:  script("main_begin,0,call,sum,2,3,4,1,0,exit"),
				SandboxScript: &seven,
			},
			status: http.StatusOK,
			end:    "main_end",
		},
		{
			name:   "wrong function",
			req:    server.PreflightRequest{Source: sumIDL, DriverScript: script("main_begin,0,call,prod,2,3,4,1,0")},
			status: http.StatusUnprocessableEntity,
			code:   appErr.InterfaceError,
			node:   "call_arguments_resolve",
		},
		{
			name:   "invalid interface",
			req:    server.PreflightRequest{Source: "main { write a; }", DriverScript: "main_begin\n0\n"},
			status: http.StatusBadRequest,
			code:   appErr.InterfaceInvalid,
		},
		{
			name:   "data flow diagnostics",
			req:    server.PreflightRequest{Source: "main { var int a; write a; }", DriverScript: script("main_begin,0,exit")},
			status: http.StatusOK,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := do(t, router, http.MethodPost, "/api/v1/preflight", tc.req)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, resp.Message)
			}
			if tc.code != 0 && resp.Code != tc.code {
				t.Fatalf("expected code %d, got %d", tc.code, resp.Code)
			}
			if tc.node != "" && resp.Details["node"] != tc.node {
				t.Fatalf("expected node %q in details, got %v", tc.node, resp.Details)
			}
			if tc.end == "" {
				return
			}
			var got server.PreflightResponse
			if err := json.Unmarshal(resp.Data, &got); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if got.End != tc.end || got.Counters.Calls != 1 || len(got.Trace) == 0 {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
}

func TestPreflightLimits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := server.NewRouter(server.NewHandler(server.HandlerConfig{
		MaxSteps:     500,
		MaxTrace:     50,
		RequireValid: true,
	}), server.RouterOptions{})

	rec, resp := do(t, router, http.MethodPost, "/api/v1/preflight", server.PreflightRequest{
		Source:       "var int g; main { loop { write g; if (g) { break; } } }",
		DriverScript: script("main_begin,1,0,exit"),
	})
	if rec.Code != http.StatusUnprocessableEntity || resp.Code != appErr.StepLimitExceeded {
		t.Fatalf("expected the step budget to stop the session, got %d %d: %s", rec.Code, resp.Code, resp.Message)
	}
	var got server.PreflightResponse
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(got.Trace) != 50 || !got.TraceTruncated || got.Steps != 501 {
		t.Fatalf("unexpected partial result: %d nodes, truncated %v, %d steps", len(got.Trace), got.TraceTruncated, got.Steps)
	}

	rec, resp = do(t, router, http.MethodPost, "/api/v1/preflight", server.PreflightRequest{
		Source:       "main { var int a; write a; }",
		DriverScript: script("main_begin,0,exit"),
	})
	if rec.Code != http.StatusBadRequest || resp.Code != appErr.InterfaceInvalid {
		t.Fatalf("expected diagnostics to be refused, got %d %d", rec.Code, resp.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	router, _ := newRouter(server.RouterOptions{MaxBodyBytes: 64})
	rec, resp := do(t, router, http.MethodPost, "/api/v1/compile", server.CompileRequest{Source: strings.Repeat(" ", 128)})
	if rec.Code != http.StatusRequestEntityTooLarge || resp.Code != appErr.SourceTooLarge {
		t.Fatalf("expected the body to be rejected, got %d %d", rec.Code, resp.Code)
	}
}

func TestHealthAndTraceHeaders(t *testing.T) {
	router, _ := newRouter(server.RouterOptions{AccessLog: true})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-Id", "trace-123")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Trace-Id"); got != "trace-123" {
		t.Fatalf("expected the trace id to be kept, got %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a request id header")
	}
}
