package builder

import (
	"bytes"
	"text/template"
)

// Template tier: the invariant scaffold every generated file starts with.
// The fragment is static and pre-validated (its own test parses it), so only
// the AST tier ever has to reason about data-dependent code. Every import is
// exercised by a helper, which keeps a scaffold-only file compilable.
var scaffoldTmpl = template.Must(template.New("scaffold").Parse(`// Code generated by openapi-testgen (seed {{.Seed}}). DO NOT EDIT.

// Package {{.Package}} exercises the {{.Resource}} endpoints of {{.Title}} over HTTP.
package {{.Package}}

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// baseURL is the root of the service under test.
func baseURL() string {
	if v := os.Getenv("TESTGEN_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// authToken supplies the bearer credential for secured endpoints.
func authToken() string {
	return os.Getenv("TESTGEN_AUTH_TOKEN")
}

func jsonBody(s string) io.Reader {
	return bytes.NewReader([]byte(s))
}

// do executes the request and returns the response with its drained body.
func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, raw
}

func decodeMap(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode response object: %v", err)
	}
	return m
}

func assertPresent(t *testing.T, body map[string]any, field string) {
	t.Helper()
	if _, ok := body[field]; !ok {
		t.Errorf("missing expected field %q", field)
	}
}

func assertType(t *testing.T, body map[string]any, field, want string) {
	t.Helper()
	v, ok := body[field]
	if !ok {
		return
	}
	got := jsonTypeOf(v)
	if got != want {
		t.Errorf("field %q: expected %s, got %s", field, want, got)
	}
}

func assertEquals(t *testing.T, body map[string]any, field string, want any) {
	t.Helper()
	v, ok := body[field]
	if !ok {
		t.Errorf("missing expected field %q", field)
		return
	}
	if !looseEqual(v, want) {
		t.Errorf("field %q: expected %v, got %v", field, want, v)
	}
}

func assertEnum(t *testing.T, body map[string]any, field string, allowed []any) {
	t.Helper()
	v, ok := body[field]
	if !ok {
		return
	}
	for _, a := range allowed {
		if looseEqual(v, a) {
			return
		}
	}
	t.Errorf("field %q: value %v not in %v", field, v, allowed)
}

func assertRootType(t *testing.T, raw []byte, want string) {
	t.Helper()
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got := jsonTypeOf(v); got != want {
		t.Errorf("response: expected %s, got %s", want, got)
	}
}

func assertRootEnum(t *testing.T, raw []byte, allowed []any) {
	t.Helper()
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, a := range allowed {
		if looseEqual(v, a) {
			return
		}
	}
	t.Errorf("response: value %v not in %v", v, allowed)
}

func jsonTypeOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
`))

type scaffoldData struct {
	Package  string
	Resource string
	Title    string
	Seed     int64
}

func renderScaffold(data scaffoldData) (string, error) {
	var buf bytes.Buffer
	if err := scaffoldTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
