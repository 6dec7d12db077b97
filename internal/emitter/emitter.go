// Package emitter serializes source units to disk and validates that each
// one compiles. Failures are file-scoped: a unit that does not survive
// formatting or type checking is reported with its diagnostics while its
// siblings are written normally.
package emitter

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/format"
	"go/importer"
	"go/parser"
	"go/printer"
	"go/scanner"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chad-deng/openapi-testgen/internal/builder"
)

// maxDiagnostics caps how many compiler errors one file contributes to the
// report.
const maxDiagnostics = 20

// Options controls where and how units are written.
type Options struct {
	OutDir string // required; target directory for generated packages
	Force  bool   // overwrite a non-empty output directory
	DryRun bool   // validate and plan, write nothing
	Logger zerolog.Logger
}

// FileOutcome is the per-unit result: the relative path the unit maps to,
// its rendered size, and any diagnostics that marked it failed.
type FileOutcome struct {
	RelPath     string
	Size        int
	Failed      bool
	Diagnostics []string
}

// Result lists outcomes in emission order.
type Result struct {
	OutDir string
	Files  []FileOutcome
}

// Emit renders, validates, and writes all units. A validation failure does
// not abort the run; only environment errors (unwritable directory, bad
// options) do.
func Emit(ctx context.Context, units []*builder.SourceUnit, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("emitter: OutDir is required")
	}
	abs, err := filepath.Abs(opts.OutDir)
	if err != nil {
		return nil, fmt.Errorf("resolve out dir: %w", err)
	}
	if !opts.DryRun {
		if err := preflight(abs, opts.Force); err != nil {
			return nil, err
		}
	}

	res := &Result{OutDir: abs}
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := filepath.Join(unit.Package, unit.FileName)
		src, diags := render(unit)
		if len(diags) == 0 {
			diags = typecheck(unit.FileName, unit.Package, src)
		}
		out := FileOutcome{RelPath: filepath.ToSlash(rel), Size: len(src), Diagnostics: diags, Failed: len(diags) > 0}

		if out.Failed {
			opts.Logger.Warn().Str("file", out.RelPath).Int("diagnostics", len(diags)).
				Msg("generated file failed validation")
			// Keep the broken output inspectable without tripping go test
			// over the sibling packages.
			rel += ".invalid"
		} else {
			opts.Logger.Debug().Str("file", out.RelPath).Int("bytes", out.Size).Msg("emitting file")
		}
		if !opts.DryRun {
			if err := writeAtomic(filepath.Join(abs, rel), src); err != nil {
				return nil, err
			}
		}
		res.Files = append(res.Files, out)
	}
	return res, nil
}

// render joins the scaffold text with the printed declarations and runs the
// result through gofmt. A formatting error means the builder produced
// malformed syntax; the unformatted source is still returned for writing.
func render(unit *builder.SourceUnit) ([]byte, []string) {
	var buf bytes.Buffer
	buf.WriteString(unit.Scaffold)
	fset := token.NewFileSet()
	// Builder decls carry fixed low positions for doc comments; a file at
	// base 1 makes them resolvable so go/printer places the comments.
	fset.AddFile("generated.go", 1, 16)
	cfg := printer.Config{Mode: printer.UseSpaces | printer.TabIndent, Tabwidth: 8}
	for _, decl := range unit.Decls {
		buf.WriteByte('\n')
		if err := cfg.Fprint(&buf, fset, decl); err != nil {
			return buf.Bytes(), []string{fmt.Sprintf("print declaration: %v", err)}
		}
		buf.WriteByte('\n')
	}
	formatted, err := format.Source(buf.Bytes())
	if err != nil {
		return buf.Bytes(), []string{fmt.Sprintf("gofmt: %v", err)}
	}
	return formatted, nil
}

// typecheck parses and type-checks one rendered file against the standard
// library. Generated files import nothing else, so a source importer is
// sufficient to prove they compile.
func typecheck(fileName, pkgName string, src []byte) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, fileName, src, parser.AllErrors)
	if err != nil {
		return parseDiagnostics(err)
	}
	var diags []string
	conf := types.Config{
		Importer: importer.ForCompiler(fset, "source", nil),
		Error: func(err error) {
			if len(diags) < maxDiagnostics {
				diags = append(diags, err.Error())
			}
		},
	}
	_, _ = conf.Check(pkgName, fset, []*ast.File{file}, nil)
	return diags
}

func parseDiagnostics(err error) []string {
	var list scanner.ErrorList
	if errors, ok := err.(scanner.ErrorList); ok {
		list = errors
	} else {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(list))
	for i, e := range list {
		if i == maxDiagnostics {
			break
		}
		out = append(out, e.Error())
	}
	return out
}

// preflight refuses to write into a non-empty directory unless forced.
func preflight(abs string, force bool) error {
	st, err := os.Stat(abs)
	if err != nil || !st.IsDir() || force {
		return nil
	}
	entries, err := os.ReadDir(abs)
	if err == nil && len(entries) > 0 {
		return fmt.Errorf("emitter: output directory %q is not empty (use --force to overwrite)", abs)
	}
	return nil
}

// writeAtomic writes via temp file + rename so a crash never leaves a
// half-written generated file behind.
func writeAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp-" + time.Now().Format("20060102150405")
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
