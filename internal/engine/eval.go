package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vk/labgrid/internal/archive"
	"github.com/vk/labgrid/internal/ctxlog"
	"github.com/vk/labgrid/internal/model"
	"github.com/vk/labgrid/internal/properties"
	"github.com/vk/labgrid/internal/report"
	"github.com/vk/labgrid/internal/report/render"
	"github.com/vk/labgrid/internal/rundir"
)

// Evaluation directory layout.
const (
	CombinedFile = "properties.json"
	ReportsDir   = "reports"
)

// Parse runs the parser pipeline on every run with a terminal state. Runs
// still executing, and directories claimed by another process, are skipped.
// A run whose properties cannot be written is logged and left unparsed.
func (e *Engine) Parse(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var parsed, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, run := range e.spec.Runs {
		g.Go(func() error {
			dir := rundir.New(run.Dir)
			state, err := dir.State()
			if err != nil {
				return err
			}
			if !state.Terminal() {
				skipped.Add(1)
				logger.Debug("Run not finished, not parsing.", "run", run.ID, "state", state)
				return nil
			}
			if _, err := e.pipeline.Parse(gctx, dir); err != nil {
				if errors.Is(err, rundir.ErrClaimed) {
					skipped.Add(1)
					logger.Warn("Run directory is claimed by another process, not parsing.", "run", run.ID)
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				logger.Warn("Parsing run failed.", "run", run.ID, "error", err)
				return nil
			}
			parsed.Add(1)
			if err := e.store.Add(gctx, run.ID, state); err != nil {
				return err
			}
			return e.store.Transition(gctx, run.ID, model.StateParsed)
		})
	}
	err := g.Wait()
	logger.Info("Runs parsed.", "parsed", parsed.Load(), "skipped", skipped.Load(), "failed", failed.Load())
	return err
}

// Fetch merges the properties of every parsed run into the combined
// properties file of the evaluation directory, applying the derived
// attributes. Records of other runs already in the file are kept.
func (e *Engine) Fetch(ctx context.Context) (properties.Combined, error) {
	logger := ctxlog.FromContext(ctx)
	filters, err := report.DerivedFilters(e.spec.Derived)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(e.spec.EvalDir, CombinedFile)
	combined, err := properties.LoadCombined(path)
	if err != nil {
		return nil, err
	}

	fresh := properties.Combined{}
	missing := 0
	for _, run := range e.spec.Runs {
		rec, err := properties.Read(rundir.New(run.Dir))
		if errors.Is(err, fs.ErrNotExist) {
			missing++
			continue
		}
		if err != nil {
			return nil, err
		}
		fresh[run.ID] = rec
	}
	if missing > 0 {
		logger.Warn("Some runs have no properties; run the parse step first.", "missing", missing)
	}

	for _, rec := range report.NewBatch(fresh, filters...).Records() {
		combined[rec.String("run_id")] = rec
	}
	if err := os.MkdirAll(e.spec.EvalDir, 0o755); err != nil {
		return nil, err
	}
	if err := properties.SaveCombined(path, combined); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	logger.Info("Properties fetched.", "runs", len(fresh), "total", len(combined), "path", path)
	return combined, nil
}

// Report renders the configured reports from the combined properties into
// the reports directory of the evaluation directory.
func (e *Engine) Report(ctx context.Context) (*report.Report, error) {
	logger := ctxlog.FromContext(ctx)
	combined, err := properties.LoadCombined(filepath.Join(e.spec.EvalDir, CombinedFile))
	if err != nil {
		return nil, err
	}
	if len(combined) == 0 {
		return nil, errors.New("no properties to report on; run the fetch step first")
	}

	b := report.NewBatch(combined, report.ReportFilters(e.spec.Report, e.spec.DomainGroups)...)
	r := report.Generate(e.spec.Name, b, e.spec.Report)
	written, err := render.Write(filepath.Join(e.spec.EvalDir, ReportsDir), r, e.spec.Report.Formats)
	for _, w := range r.Warnings {
		logger.Warn("Report incomplete.", "warning", w)
	}
	if err != nil {
		return r, err
	}
	if e.out != nil {
		render.Text(e.out, r)
	}
	logger.Info("Reports written.", "files", len(written), "dir", filepath.Join(e.spec.EvalDir, ReportsDir))
	return r, nil
}

// Archive uploads the evaluation directory to the configured object
// storage. The object prefix defaults to the experiment name.
func (e *Engine) Archive(ctx context.Context) error {
	cfg := e.spec.Archive
	if cfg == nil {
		return errors.New("no archive configured")
	}
	store := e.archiveStore
	if store == nil {
		m, err := archive.NewMinIO(*cfg)
		if err != nil {
			return err
		}
		store = m
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = e.spec.Name
	}
	_, err := archive.Upload(ctx, store, e.spec.EvalDir, prefix)
	return err
}
