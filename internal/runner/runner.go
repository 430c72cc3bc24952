// Package runner executes extracted document blocks against the
// ephemeral schema and produces the run report.
package runner

import (
	"context"
	"time"

	"docvet/internal/bookshop"
	"docvet/internal/config"
	"docvet/internal/db"
	"docvet/internal/document"
	"docvet/internal/report"
	"docvet/internal/uploader"
	"docvet/internal/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Runner owns the database session for the duration of one run.
type Runner struct {
	cfg        config.Config
	sess       db.Session
	boot       *bookshop.Bootstrapper
	reporter   *report.Reporter
	uploader   uploader.Uploader
	defined    map[string]bool
	failedDefs map[string]bool
}

// New constructs a Runner for the given config and session.
func New(cfg config.Config, sess db.Session, reporter *report.Reporter) *Runner {
	var up uploader.Uploader = uploader.NoopUploader{}
	if gcs, err := uploader.NewGCS(cfg.Storage.GCS); err == nil && gcs.Enabled() {
		up = gcs
	} else if s3up, err := uploader.NewS3(cfg.Storage.S3); err == nil && s3up.Enabled() {
		up = s3up
	}
	return &Runner{
		cfg:        cfg,
		sess:       sess,
		boot:       bookshop.New(cfg.Schema, cfg.Stubs),
		reporter:   reporter,
		uploader:   up,
		defined:    make(map[string]bool),
		failedDefs: make(map[string]bool),
	}
}

// Run bootstraps the schema, executes every block, and assembles the
// run summary. Execution is strictly sequential in document order:
// definitions and setup first, invocations and queries after. The
// returned error covers environment failures only; example failures
// are recorded in the summary.
func (r *Runner) Run(ctx context.Context, docPath string, blocks []document.Block) (report.RunSummary, error) {
	if err := r.boot.Setup(ctx, r.sess); err != nil {
		return report.RunSummary{}, errors.Wrap(err, "bootstrap")
	}
	if !r.cfg.KeepSchema {
		defer r.boot.Teardown(context.WithoutCancel(ctx), r.sess)
	}

	results := make([]report.BlockReport, len(blocks))
	for i, blk := range blocks {
		if blk.IsDefinition() || blk.Kind == document.KindSetup {
			results[i] = r.runCommitted(ctx, blk)
		}
	}
	for i, blk := range blocks {
		if blk.Kind == document.KindInvocation || blk.Kind == document.KindQuery {
			results[i] = r.runRolledBack(ctx, blk)
		}
	}

	summary := report.RunSummary{
		RunID:     uuid.New().String(),
		Doc:       docPath,
		Schema:    r.cfg.Schema,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Blocks:    results,
		RunInfo:   r.cfg.RunInfo,
	}
	summary.Tally()
	r.writeCases(ctx, blocks, summary.Blocks)
	return summary, nil
}

// runCommitted executes a definition or setup block in autocommit
// mode; its effects persist for the rest of the run.
func (r *Runner) runCommitted(ctx context.Context, blk document.Block) report.BlockReport {
	out := newBlockReport(blk)
	start := time.Now()
	for _, stmt := range blk.Statements {
		if err := r.execOne(ctx, stmt); err != nil {
			r.recordOutcome(&out, blk, stmt, err)
			break
		}
	}
	out.ElapsedMs = time.Since(start).Milliseconds()
	if out.Status == report.StatusSucceeded && blk.IsDefinition() {
		r.defined[blk.DeclaredName] = true
		util.Detailf("defined %s %s", blk.Kind, blk.DeclaredName)
	}
	if out.Status != report.StatusSucceeded && blk.IsDefinition() {
		r.failedDefs[blk.DeclaredName] = true
	}
	return out
}

// runRolledBack executes an invocation or query block inside its own
// transaction and rolls it back after capturing output, so repeated
// runs see identical state.
func (r *Runner) runRolledBack(ctx context.Context, blk document.Block) report.BlockReport {
	out := newBlockReport(blk)
	if reason, ok := r.resolveReferences(blk); !ok {
		if reason == "" {
			out.Status = report.StatusUnresolved
		} else {
			out.Status = report.StatusSkipped
			out.SkipReason = reason
		}
		return out
	}

	start := time.Now()
	var rows db.Rows
	var failedStmt string
	err := r.sess.WithRollback(ctx, func(conn db.Conn) error {
		for _, stmt := range blk.Statements {
			qctx, cancel := r.withTimeout(ctx)
			captured, err := conn.Query(qctx, stmt)
			cancel()
			if err != nil {
				failedStmt = stmt
				return err
			}
			if len(captured.Columns) > 0 {
				rows = captured
			}
		}
		return nil
	})
	out.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		r.recordOutcome(&out, blk, failedStmt, err)
		return out
	}
	out.Rows = rows.RowCount()
	return out
}

// resolveReferences applies the ordering invariant: an invocation may
// only call names already defined by an earlier block. ok=false with
// an empty reason means Unresolved; with a reason it means Skipped.
func (r *Runner) resolveReferences(blk document.Block) (reason string, ok bool) {
	if blk.Kind != document.KindInvocation {
		return "", true
	}
	for _, ref := range blk.References {
		if r.failedDefs[ref] {
			return report.SkipDependencyFailed, false
		}
	}
	for _, ref := range blk.References {
		if !r.defined[ref] {
			return "", false
		}
	}
	return "", true
}

func (r *Runner) execOne(ctx context.Context, stmt string) error {
	qctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.sess.Exec(qctx, stmt)
}

// recordOutcome classifies an execution error onto the block report.
// Missing relations mark vignette fragments Skipped(NotExecutable);
// everything else is a recorded failure and the run continues.
func (r *Runner) recordOutcome(out *report.BlockReport, blk document.Block, stmt string, err error) {
	switch {
	case isMissingRelationErr(err):
		out.Status = report.StatusSkipped
		out.SkipReason = report.SkipNotExecutable
		util.Detailf("block #%d skipped: %v", blk.ID, err)
	case isUndefinedRoutineErr(err) && blk.Kind == document.KindInvocation:
		out.Status = report.StatusUnresolved
		out.Error = errString(err)
	case isTimeoutErr(err):
		out.Status = report.StatusFailed
		out.Error = "timeout: " + errString(err)
		out.ErrorSQL = stmt
	default:
		out.Status = report.StatusFailed
		out.Error = errString(err)
		out.ErrorSQL = stmt
	}
}

func (r *Runner) writeCases(ctx context.Context, blocks []document.Block, results []report.BlockReport) {
	for i := range results {
		if results[i].Status != report.StatusFailed {
			continue
		}
		c, err := r.reporter.NewCase()
		if err != nil {
			util.Warnf("case dir for block #%d: %v", results[i].ID, err)
			continue
		}
		if err := r.reporter.WriteText(c, "block.sql", blocks[i].Raw+"\n"); err != nil {
			util.Warnf("write block.sql: %v", err)
		}
		if err := r.reporter.WriteText(c, "schema.sql", r.boot.SchemaSQL()); err != nil {
			util.Warnf("write schema.sql: %v", err)
		}
		results[i].CaseDir = c.Dir
		if err := r.reporter.WriteSummary(c, results[i]); err != nil {
			util.Warnf("write summary.json: %v", err)
		}
		if r.reporter.ArchiveCases {
			if _, _, err := r.reporter.WriteCaseArchive(c); err != nil {
				util.Warnf("archive case %s: %v", c.ID, err)
			}
		}
		if r.uploader.Enabled() {
			location, err := r.uploader.UploadDir(ctx, c.Dir)
			if err != nil {
				util.Warnf("upload case %s: %v", c.ID, err)
			} else {
				util.Infof("case %s uploaded to %s", c.ID, location)
			}
		}
	}
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(r.cfg.StatementTimeoutMs)*time.Millisecond)
}

func newBlockReport(blk document.Block) report.BlockReport {
	return report.BlockReport{
		ID:         blk.ID,
		Line:       blk.Line,
		Kind:       blk.Kind.String(),
		Name:       blockName(blk),
		Status:     report.StatusSucceeded,
		Statements: len(blk.Statements),
	}
}

func blockName(blk document.Block) string {
	if blk.DeclaredName != "" {
		return blk.DeclaredName
	}
	if len(blk.References) > 0 {
		return blk.References[0]
	}
	return ""
}
