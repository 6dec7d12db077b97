package emitter

import (
	"context"
	"go/ast"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chad-deng/openapi-testgen/internal/builder"
)

func validUnit() *builder.SourceUnit {
	return &builder.SourceUnit{
		FileName: "sample_test.go",
		Package:  "sample",
		Scaffold: `// Code generated by openapi-testgen (seed 1). DO NOT EDIT.

package sample

import "testing"

func helper(t *testing.T) {
	t.Helper()
}
`,
		Decls: []ast.Decl{
			&ast.FuncDecl{
				Name: ast.NewIdent("TestHelper"),
				Type: &ast.FuncType{
					Params: &ast.FieldList{List: []*ast.Field{{
						Names: []*ast.Ident{ast.NewIdent("t")},
						Type:  &ast.StarExpr{X: &ast.SelectorExpr{X: ast.NewIdent("testing"), Sel: ast.NewIdent("T")}},
					}}},
				},
				Body: &ast.BlockStmt{List: []ast.Stmt{
					&ast.ExprStmt{X: &ast.CallExpr{
						Fun:  ast.NewIdent("helper"),
						Args: []ast.Expr{ast.NewIdent("t")},
					}},
				}},
			},
		},
	}
}

// brokenUnit references an undefined identifier, which must surface as a
// type-check diagnostic rather than an emit error.
func brokenUnit() *builder.SourceUnit {
	u := validUnit()
	u.FileName = "broken_test.go"
	u.Package = "broken"
	u.Scaffold = strings.ReplaceAll(u.Scaffold, "package sample", "package broken")
	u.Decls = []ast.Decl{
		&ast.FuncDecl{
			Name: ast.NewIdent("TestBroken"),
			Type: &ast.FuncType{
				Params: &ast.FieldList{List: []*ast.Field{{
					Names: []*ast.Ident{ast.NewIdent("t")},
					Type:  &ast.StarExpr{X: &ast.SelectorExpr{X: ast.NewIdent("testing"), Sel: ast.NewIdent("T")}},
				}}},
			},
			Body: &ast.BlockStmt{List: []ast.Stmt{
				&ast.ExprStmt{X: &ast.CallExpr{
					Fun:  ast.NewIdent("noSuchHelper"),
					Args: []ast.Expr{ast.NewIdent("t")},
				}},
			}},
		},
	}
	return u
}

func TestEmit_WritesValidUnit(t *testing.T) {
	t.Parallel()
	out := t.TempDir()
	res, err := Emit(context.Background(), []*builder.SourceUnit{validUnit()}, Options{
		OutDir: out,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].Failed {
		t.Fatalf("expected one clean file, got %+v", res.Files)
	}
	data, err := os.ReadFile(filepath.Join(out, "sample", "sample_test.go"))
	if err != nil {
		t.Fatalf("read emitted file: %v", err)
	}
	src := string(data)
	if !strings.Contains(src, "func TestHelper(t *testing.T)") {
		t.Fatalf("declaration missing from output:\n%s", src)
	}
	if !strings.HasPrefix(src, "// Code generated") {
		t.Fatalf("scaffold header missing:\n%s", src)
	}
}

func TestEmit_FailedFileIsIsolated(t *testing.T) {
	t.Parallel()
	out := t.TempDir()
	res, err := Emit(context.Background(), []*builder.SourceUnit{validUnit(), brokenUnit()}, Options{
		OutDir: out,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("expected two outcomes, got %d", len(res.Files))
	}
	if res.Files[0].Failed {
		t.Fatalf("valid sibling must not be affected: %+v", res.Files[0])
	}
	if !res.Files[1].Failed || len(res.Files[1].Diagnostics) == 0 {
		t.Fatalf("broken unit must fail with diagnostics: %+v", res.Files[1])
	}
	if _, err := os.Stat(filepath.Join(out, "sample", "sample_test.go")); err != nil {
		t.Fatalf("valid file missing: %v", err)
	}
	// The broken file is kept inspectable under a non-Go name.
	if _, err := os.Stat(filepath.Join(out, "broken", "broken_test.go.invalid")); err != nil {
		t.Fatalf("invalid output not preserved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "broken", "broken_test.go")); err == nil {
		t.Fatalf("broken file must not be written as a Go source file")
	}
}

func TestEmit_DryRunWritesNothing(t *testing.T) {
	t.Parallel()
	out := t.TempDir()
	res, err := Emit(context.Background(), []*builder.SourceUnit{validUnit()}, Options{
		OutDir: out,
		DryRun: true,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].Size == 0 {
		t.Fatalf("dry run should still plan and validate, got %+v", res.Files)
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dry run wrote files: %v", entries)
	}
}

func TestEmit_RefusesNonEmptyDir(t *testing.T) {
	t.Parallel()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(out, "existing.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := Emit(context.Background(), []*builder.SourceUnit{validUnit()}, Options{
		OutDir: out,
		Logger: zerolog.Nop(),
	})
	if err == nil {
		t.Fatalf("expected refusal for non-empty directory")
	}
	if !strings.Contains(err.Error(), "--force") {
		t.Fatalf("error should hint at --force: %v", err)
	}

	// Force overrides the guard.
	if _, err := Emit(context.Background(), []*builder.SourceUnit{validUnit()}, Options{
		OutDir: out,
		Force:  true,
		Logger: zerolog.Nop(),
	}); err != nil {
		t.Fatalf("forced emit: %v", err)
	}
}

func TestEmit_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Emit(ctx, []*builder.SourceUnit{validUnit()}, Options{
		OutDir: t.TempDir(),
		Logger: zerolog.Nop(),
	}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestRender_FormatsOutput(t *testing.T) {
	t.Parallel()
	src, diags := render(validUnit())
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if strings.Contains(string(src), "\n\n\n\n") {
		t.Fatalf("output not gofmt-clean:\n%s", src)
	}
	if got := typecheck("sample_test.go", "sample", src); len(got) != 0 {
		t.Fatalf("rendered output fails typecheck: %v", got)
	}
}
