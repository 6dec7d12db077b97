package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const petstoreYAML = `openapi: 3.0.3
info: { title: Petstore, version: "1.0.0" }
paths:
  /pets/{id}:
    get:
      operationId: getPet
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
            minimum: 1
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Pet'
        "404":
          description: not found
  /orders:
    post:
      operationId: createOrder
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [petId]
              properties:
                petId: { type: integer }
      responses:
        "201":
          description: created
        "400":
          description: bad request
components:
  schemas:
    Pet:
      type: object
      required: [id, name]
      properties:
        id: { type: integer }
        name:
          type: string
          minLength: 3
          maxLength: 5
        status:
          type: string
          enum: [available, sold]
`

func writeSpecFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "petstore.yaml")
	if err := os.WriteFile(path, []byte(petstoreYAML), 0o600); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func baseConfig(input, out string) Config {
	return Config{
		Input:   input,
		OutDir:  out,
		Seed:    1,
		Workers: 2,
		Logger:  zerolog.Nop(),
	}
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()
	input := writeSpecFile(t)
	out := t.TempDir()

	rep, err := Run(context.Background(), baseConfig(input, out))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.SpecHash == "" || rep.RunID == "" {
		t.Fatalf("report header incomplete: %+v", rep)
	}
	if len(rep.Files) != 2 {
		t.Fatalf("expected pets and orders files, got %+v", rep.Files)
	}
	if failed := rep.Failed(); len(failed) != 0 {
		t.Fatalf("generated files failed validation: %v\n%+v", failed, rep.Files)
	}
	if rep.ScenarioTotal() == 0 {
		t.Fatalf("expected scenarios in the report")
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("clean run should exit 0, got %d", rep.ExitCode())
	}

	for _, rel := range []string{"pets/pets_test.go", "orders/orders_test.go", "report.json"} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(rel))); err != nil {
			t.Fatalf("missing output %s: %v", rel, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(out, "pets", "pets_test.go"))
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	src := string(data)
	if !strings.Contains(src, "package pets") || !strings.Contains(src, "func TestGetPet_HappyPath") {
		t.Fatalf("generated file missing expected content:\n%s", src)
	}
}

func TestRun_Deterministic(t *testing.T) {
	t.Parallel()
	input := writeSpecFile(t)
	outA := t.TempDir()
	outB := t.TempDir()

	if _, err := Run(context.Background(), baseConfig(input, outA)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := Run(context.Background(), baseConfig(input, outB)); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for _, rel := range []string{"pets/pets_test.go", "orders/orders_test.go"} {
		a, err := os.ReadFile(filepath.Join(outA, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		b, err := os.ReadFile(filepath.Join(outB, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read %s: %v", rel, err)
		}
		if string(a) != string(b) {
			t.Fatalf("%s differs between identical runs", rel)
		}
	}
}

func TestRun_KindFilter(t *testing.T) {
	t.Parallel()
	input := writeSpecFile(t)
	cfg := baseConfig(input, t.TempDir())
	cfg.ScenarioKinds = []string{"happy"}

	rep, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, f := range rep.Files {
		for _, op := range f.Operations {
			for kind := range op.Scenarios {
				if kind != "happy" {
					t.Fatalf("kind filter leaked %s", kind)
				}
			}
		}
	}

	cfg.ScenarioKinds = []string{"nonsense"}
	cfg.OutDir = t.TempDir()
	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatalf("unknown scenario kind must be rejected")
	}
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()
	input := writeSpecFile(t)
	out := t.TempDir()
	cfg := baseConfig(input, out)
	cfg.DryRun = true

	rep, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Files) == 0 {
		t.Fatalf("dry run should still plan files")
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read out dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dry run wrote files: %v", entries)
	}
}

func TestRun_CacheHit(t *testing.T) {
	t.Parallel()
	input := writeSpecFile(t)
	out := t.TempDir()
	cache := t.TempDir()
	cfg := baseConfig(input, out)
	cfg.CacheDir = cache

	first, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RunID != first.RunID {
		t.Fatalf("expected cached report, got a fresh run (%s vs %s)", second.RunID, first.RunID)
	}

	// A different seed misses the cache; the output directory now holds the
	// previous run, so force the overwrite.
	cfg.Seed = 2
	cfg.Force = true
	third, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if third.RunID == first.RunID {
		t.Fatalf("seed change must invalidate the cache")
	}
}

func TestRun_FatalLoadError(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir())
	rep, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatalf("missing input must be fatal")
	}
	if rep != nil {
		t.Fatalf("no report expected on fatal errors, got %+v", rep)
	}
}

func TestRun_ReportSuppressed(t *testing.T) {
	t.Parallel()
	input := writeSpecFile(t)
	out := t.TempDir()
	cfg := baseConfig(input, out)
	cfg.ReportPath = "-"

	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "report.json")); err == nil {
		t.Fatalf("report should have been suppressed")
	}
	if _, err := os.Stat(filepath.Join(out, "pets", "pets_test.go")); err != nil {
		t.Fatalf("generated files still expected: %v", err)
	}
}
