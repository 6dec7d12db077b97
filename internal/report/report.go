// Package report defines the machine-readable generation report consumed by
// the invoking layer (CLI exit codes, review tooling).
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chad-deng/openapi-testgen/internal/synth"
)

// Status is the per-file compile outcome.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// OperationSummary counts planned scenarios for one operation by kind.
type OperationSummary struct {
	ID        string         `json:"id"`
	Scenarios map[string]int `json:"scenarios"`
	Total     int            `json:"total"`
}

// FileResult is the outcome for one emitted file. A failed file carries the
// compiler diagnostics; sibling files are unaffected.
type FileResult struct {
	Path        string             `json:"path"`
	Status      Status             `json:"status"`
	Diagnostics []string           `json:"diagnostics,omitempty"`
	Operations  []OperationSummary `json:"operations"`
}

// Report enumerates everything a caller needs to act on a run without
// re-reading the source specification.
type Report struct {
	RunID       string          `json:"runId"`
	SpecHash    string          `json:"specHash"`
	Seed        int64           `json:"seed"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Files       []FileResult    `json:"files"`
	Warnings    []synth.Warning `json:"warnings,omitempty"`
}

// Failed lists the paths of files that did not compile.
func (r *Report) Failed() []string {
	var out []string
	for _, f := range r.Files {
		if f.Status == StatusFailed {
			out = append(out, f.Path)
		}
	}
	return out
}

// ExitCode maps the report to the documented process exit semantics:
// 0 all files compiled, 2 partial success. (Exit 1, load failure, never
// yields a report.)
func (r *Report) ExitCode() int {
	if len(r.Failed()) > 0 {
		return 2
	}
	return 0
}

// ScenarioTotal sums planned scenarios across all files.
func (r *Report) ScenarioTotal() int {
	n := 0
	for _, f := range r.Files {
		for _, op := range f.Operations {
			n += op.Total
		}
	}
	return n
}

// Marshal renders the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteFile writes the report beside the generated sources.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Load reads a report back from disk (used by the read-through cache).
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
