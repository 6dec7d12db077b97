// Package pipeline wires the generation stages end to end: load, normalize,
// analyze, plan, build, emit, report. The sequential stages run once; the
// per-group planning and building fan out over a bounded worker pool with
// results landing in pre-allocated slots, so concurrency never affects
// output order.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chad-deng/openapi-testgen/internal/analyzer"
	"github.com/chad-deng/openapi-testgen/internal/builder"
	"github.com/chad-deng/openapi-testgen/internal/emitter"
	"github.com/chad-deng/openapi-testgen/internal/planner"
	"github.com/chad-deng/openapi-testgen/internal/report"
	"github.com/chad-deng/openapi-testgen/internal/spec"
	"github.com/chad-deng/openapi-testgen/internal/synth"
)

// Config carries one run's worth of settings.
type Config struct {
	Input            string // file path or http(s) URL; required
	OutDir           string // required
	Seed             int64
	ScenarioKinds    []string // empty means all
	OptionalFraction float64
	MaxDepth         int
	CacheDir         string // empty disables the report cache
	DryRun           bool
	Force            bool
	Workers          int    // <=0 means GOMAXPROCS
	ReportPath       string // empty means <OutDir>/report.json; "-" suppresses
	Logger           zerolog.Logger
}

// Run executes the whole pipeline. A non-nil report is returned for every
// run that got past loading, including runs with failed files; the error is
// reserved for fatal conditions (unreadable input, invalid configuration,
// cancellation).
func Run(ctx context.Context, cfg Config) (*report.Report, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	log := cfg.Logger

	start := time.Now()
	raw, err := spec.Load(ctx, cfg.Input, spec.WithLogger(log))
	if err != nil {
		return nil, err
	}
	doc, err := spec.BuildDocument(ctx, raw)
	if err != nil {
		return nil, err
	}
	log.Info().Str("title", doc.Title).Int("operations", len(doc.Operations)).
		Msg("specification loaded")

	hash, err := specHash(raw)
	if err != nil {
		return nil, fmt.Errorf("hash specification: %w", err)
	}

	if cached := cacheLookup(cfg, hash, log); cached != nil {
		return cached, nil
	}

	idx := analyzer.Analyze(doc)
	for _, se := range idx.Errors() {
		log.Warn().Str("schema", se.Name).Str("reason", se.Reason).
			Msg("schema excluded from synthesis")
	}

	syn := synth.New(idx, synth.Options{
		Seed:             cfg.Seed,
		OptionalFraction: cfg.OptionalFraction,
		MaxDepth:         cfg.MaxDepth,
	})
	kinds, err := parseKinds(cfg.ScenarioKinds)
	if err != nil {
		return nil, err
	}
	pln := planner.New(doc, idx, syn, planner.Options{Kinds: kinds})
	groups := pln.Groups()

	// Fan out: one task per operation, each writing into its own plan slot.
	// Group and operation order were fixed above, so the output is identical
	// regardless of worker count or completion order.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for gi := range groups {
		for pi := range groups[gi].Plans {
			slot := &groups[gi].Plans[pi]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				*slot = pln.PlanOperation(slot.Op)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bld := builder.New(idx, doc.Title, cfg.Seed)
	units := make([]*builder.SourceUnit, len(groups))
	bg, bctx := errgroup.WithContext(ctx)
	bg.SetLimit(cfg.Workers)
	for i := range groups {
		i := i
		bg.Go(func() error {
			if err := bctx.Err(); err != nil {
				return err
			}
			unit, err := bld.Build(groups[i])
			if err != nil {
				return err
			}
			units[i] = unit
			return nil
		})
	}
	if err := bg.Wait(); err != nil {
		return nil, err
	}

	emitted, err := emitter.Emit(ctx, units, emitter.Options{
		OutDir: cfg.OutDir,
		Force:  cfg.Force,
		DryRun: cfg.DryRun,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	rep := assembleReport(cfg, hash, groups, emitted)
	log.Info().
		Int("files", len(rep.Files)).
		Int("scenarios", rep.ScenarioTotal()).
		Int("failed", len(rep.Failed())).
		Dur("elapsed", time.Since(start)).
		Msg("generation finished")

	if !cfg.DryRun {
		if path := reportPath(cfg); path != "" {
			if err := rep.WriteFile(path); err != nil {
				return rep, fmt.Errorf("write report: %w", err)
			}
		}
		cacheStore(cfg, hash, rep, log)
	}
	return rep, nil
}

func assembleReport(cfg Config, hash string, groups []planner.FileGroup, emitted *emitter.Result) *report.Report {
	rep := &report.Report{
		RunID:       uuid.NewString(),
		SpecHash:    hash,
		Seed:        cfg.Seed,
		GeneratedAt: time.Now().UTC(),
	}
	for i, out := range emitted.Files {
		fr := report.FileResult{
			Path:   out.RelPath,
			Status: report.StatusOK,
		}
		if out.Failed {
			fr.Status = report.StatusFailed
			fr.Diagnostics = out.Diagnostics
		}
		for _, plan := range groups[i].Plans {
			sum := report.OperationSummary{
				ID:        plan.Op.ID,
				Scenarios: make(map[string]int),
			}
			for _, sc := range plan.Scenarios {
				sum.Scenarios[string(sc.Kind)]++
				sum.Total++
			}
			fr.Operations = append(fr.Operations, sum)
			rep.Warnings = append(rep.Warnings, plan.Warnings...)
		}
		rep.Files = append(rep.Files, fr)
	}
	return rep
}

func parseKinds(names []string) ([]planner.ScenarioKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	valid := make(map[planner.ScenarioKind]bool)
	for _, k := range planner.AllKinds() {
		valid[k] = true
	}
	out := make([]planner.ScenarioKind, 0, len(names))
	for _, n := range names {
		k := planner.ScenarioKind(strings.ToLower(strings.TrimSpace(n)))
		if !valid[k] {
			return nil, fmt.Errorf("unknown scenario kind %q", n)
		}
		out = append(out, k)
	}
	return out, nil
}

// specHash fingerprints the loaded document from its canonical JSON form, so
// file and URL inputs hash the same when they carry the same spec.
func specHash(doc interface{ MarshalJSON() ([]byte, error) }) (string, error) {
	data, err := doc.MarshalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func reportPath(cfg Config) string {
	switch cfg.ReportPath {
	case "-":
		return ""
	case "":
		return filepath.Join(cfg.OutDir, "report.json")
	default:
		return cfg.ReportPath
	}
}

// cacheKey covers everything that changes the generated output.
func cacheKey(cfg Config, hash string) string {
	kinds := append([]string(nil), cfg.ScenarioKinds...)
	sort.Strings(kinds)
	material := fmt.Sprintf("%s|%d|%v|%g|%d", hash, cfg.Seed, kinds, cfg.OptionalFraction, cfg.MaxDepth)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// cacheLookup returns the prior report for an identical run when every file
// it names is still present in the output directory.
func cacheLookup(cfg Config, hash string, log zerolog.Logger) *report.Report {
	if cfg.CacheDir == "" || cfg.DryRun || cfg.Force {
		return nil
	}
	path := filepath.Join(cfg.CacheDir, cacheKey(cfg, hash)+".json")
	rep, err := report.Load(path)
	if err != nil {
		return nil
	}
	for _, f := range rep.Files {
		if f.Status != report.StatusOK {
			return nil
		}
		if _, err := os.Stat(filepath.Join(cfg.OutDir, filepath.FromSlash(f.Path))); err != nil {
			return nil
		}
	}
	log.Info().Str("cache", path).Msg("reusing cached generation")
	return rep
}

func cacheStore(cfg Config, hash string, rep *report.Report, log zerolog.Logger) {
	if cfg.CacheDir == "" || len(rep.Failed()) > 0 {
		return
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("cache dir unavailable")
		return
	}
	path := filepath.Join(cfg.CacheDir, cacheKey(cfg, hash)+".json")
	if err := rep.WriteFile(path); err != nil {
		log.Warn().Err(err).Str("cache", path).Msg("cache write failed")
	}
}
