package spec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSpec(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_EmptyInput(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), "   ")
	if err == nil {
		t.Fatalf("expected error for empty input")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Code != InputError {
		t.Fatalf("expected InputError, got %v (%T)", err, err)
	}
}

func TestLoad_BlocksFileURL(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), "file:///etc/hosts")
	if err == nil {
		t.Fatalf("expected error for file:// URL")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if le.Code != InputError {
		t.Fatalf("expected InputError, got %v", le.Code)
	}
}

func TestLoad_UnsupportedScheme(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), "ftp://example.com/spec.yaml")
	if err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Code != InputError {
		t.Fatalf("expected InputError, got %v (%T)", err, err)
	}
}

func TestLoad_NetworkError(t *testing.T) {
	t.Parallel()
	// Unused port to provoke a quick network failure.
	url := "http://127.0.0.1:1/spec.yaml"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Load(ctx, url, WithHTTPTimeout(200*time.Millisecond), WithMaxRetries(2))
	if err == nil {
		t.Fatalf("expected network error")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Code != NetworkError {
		t.Fatalf("expected NetworkError, got %v (%T)", err, err)
	}
}

func TestLoad_V3_Success(t *testing.T) {
	t.Parallel()
	path := writeSpec(t, "ok.yaml", `openapi: 3.0.3
info:
  title: Sample
  version: "1.0.0"
paths:
  /hello:
    get:
      operationId: getHello
      responses:
        "200":
          description: ok
`)
	doc, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Info == nil || doc.Info.Title != "Sample" {
		t.Fatalf("expected title Sample, got %+v", doc.Info)
	}
}

func TestLoad_V3_MalformedYAML(t *testing.T) {
	t.Parallel()
	path := writeSpec(t, "bad.yaml", `openapi: 3.0.0
info: [unclosed
`)
	_, err := Load(context.Background(), path)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if le.Code != SyntaxError {
		t.Fatalf("expected SyntaxError, got %v", le.Code)
	}
	if le.Location == "" {
		t.Fatalf("expected location to be set")
	}
}

func TestLoad_V2_Conversion_Success(t *testing.T) {
	t.Parallel()
	path := writeSpec(t, "swagger.yaml", `swagger: "2.0"
info:
  title: Sample
  version: "1.0.0"
paths:
  "/hello":
    get:
      responses:
        "200":
          description: ok
`)
	doc, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		t.Fatalf("expected OpenAPI v3 after conversion, got %q", doc.OpenAPI)
	}
}

func TestLoad_V2_Conversion_Failure(t *testing.T) {
	t.Parallel()
	path := writeSpec(t, "swagger-bad.yaml", `swagger: "2.0"
paths: {}
`)
	_, err := Load(context.Background(), path)
	if err == nil {
		t.Fatalf("expected conversion error")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %T", err)
	}
	if le.Code != ConversionError && le.Code != SchemaInvalid && le.Code != SyntaxError {
		t.Fatalf("expected ConversionError/SchemaInvalid/SyntaxError, got %v", le.Code)
	}
}

func TestLoadBytes(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"openapi":"3.0.3","info":{"title":"Inline","version":"1"},"paths":{}}`)
	doc, err := LoadBytes(context.Background(), raw)
	if err != nil {
		t.Fatalf("load bytes: %v", err)
	}
	if doc.Info.Title != "Inline" {
		t.Fatalf("expected title Inline, got %q", doc.Info.Title)
	}
}

func TestLoadError_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	le := &LoadError{Code: NetworkError, Message: "fetch failed", Cause: cause}
	if !errors.Is(le, cause) {
		t.Fatalf("expected Unwrap to expose cause")
	}
	if !strings.Contains(le.Error(), "fetch failed") {
		t.Fatalf("unexpected message: %s", le.Error())
	}
}
