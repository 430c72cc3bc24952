// Package report aggregates execution results into the run report and
// writes per-failure case directories.
package report

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"docvet/internal/runinfo"
	"docvet/internal/util"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Block statuses as they appear in reports.
const (
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
	StatusUnresolved = "unresolved"
)

// Skip reasons.
const (
	SkipDependencyFailed = "dependency_failed"
	SkipNotExecutable    = "not_executable"
)

// BlockReport is the per-example entry of the run report, in original
// document order.
type BlockReport struct {
	ID         int    `json:"id"`
	Line       int    `json:"line"`
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	SkipReason string `json:"skip_reason,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorSQL   string `json:"error_sql,omitempty"`
	Rows       int    `json:"rows"`
	Statements int    `json:"statements"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	CaseDir    string `json:"case_dir,omitempty"`
}

// Counts tallies blocks by final status.
type Counts struct {
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Unresolved int `json:"unresolved"`
}

// Total returns the number of counted blocks.
func (c Counts) Total() int {
	return c.Succeeded + c.Failed + c.Skipped + c.Unresolved
}

// RunSummary is the whole-run report persisted as report.json.
type RunSummary struct {
	RunID     string             `json:"run_id"`
	Timestamp string             `json:"timestamp"`
	Doc       string             `json:"doc"`
	Schema    string             `json:"schema"`
	Counts    Counts             `json:"counts"`
	Blocks    []BlockReport      `json:"blocks"`
	RunInfo   *runinfo.BasicInfo `json:"run_info,omitempty"`
}

// Tally recomputes Counts from the block entries.
func (s *RunSummary) Tally() {
	var c Counts
	for _, b := range s.Blocks {
		switch b.Status {
		case StatusSucceeded:
			c.Succeeded++
		case StatusFailed:
			c.Failed++
		case StatusUnresolved:
			c.Unresolved++
		default:
			c.Skipped++
		}
	}
	s.Counts = c
}

// ExitCode maps the summary onto the process exit code: failures make
// the run red, skips and unresolved examples do not.
func (s RunSummary) ExitCode() int {
	if s.Counts.Failed > 0 {
		return 1
	}
	return 0
}

// RenderText renders the human-readable report, deterministically:
// run id, timestamps, and elapsed times are metadata kept out of the
// comparison surface so two runs over one document render the same.
func RenderText(s RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "doc: %s\n", s.Doc)
	fmt.Fprintf(&b, "examples: %d  succeeded: %d  failed: %d  skipped: %d  unresolved: %d\n\n",
		s.Counts.Total(), s.Counts.Succeeded, s.Counts.Failed, s.Counts.Skipped, s.Counts.Unresolved)
	for _, blk := range s.Blocks {
		status := blk.Status
		if blk.SkipReason != "" {
			status += "(" + blk.SkipReason + ")"
		}
		name := blk.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&b, "  #%03d line %-5d %-14s %-24s %s\n", blk.ID, blk.Line, blk.Kind, name, status)
		if blk.Error != "" {
			fmt.Fprintf(&b, "        error: %s\n", blk.Error)
		}
	}
	return b.String()
}

// Reporter writes run reports and case artifacts to disk.
type Reporter struct {
	OutputDir    string
	ArchiveCases bool
	caseSeq      int
}

// Case describes a failure case directory.
type Case struct {
	ID  string
	Dir string
}

const (
	CaseArchiveName  = "case.tar.zst"
	CaseArchiveCodec = "zstd"
)

// New creates a reporter that writes to outputDir.
func New(outputDir string, archiveCases bool) *Reporter {
	return &Reporter{OutputDir: outputDir, ArchiveCases: archiveCases}
}

// WriteRun writes report.json into the output directory.
func (r *Reporter) WriteRun(summary RunSummary) (string, error) {
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.OutputDir, "report.json")
	if err := writeJSON(path, summary); err != nil {
		return "", err
	}
	return path, nil
}

// NewCase allocates a new case directory for a failed example.
func (r *Reporter) NewCase() (Case, error) {
	r.caseSeq++
	caseID := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		caseID = v7.String()
	}
	dir := filepath.Join(r.OutputDir, fmt.Sprintf("case_%04d_%s", r.caseSeq, caseID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Case{}, err
	}
	readme := "# Reproduce Case\n\n- Apply schema: schema.sql\n- Run block: block.sql\n- Details: summary.json\n"
	_ = os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644)
	return Case{ID: caseID, Dir: dir}, nil
}

// WriteSummary writes summary.json into the case directory.
func (r *Reporter) WriteSummary(c Case, blk BlockReport) error {
	return writeJSON(filepath.Join(c.Dir, "summary.json"), blk)
}

// WriteText writes raw text content into the case directory.
func (r *Reporter) WriteText(c Case, name string, content string) error {
	return os.WriteFile(filepath.Join(c.Dir, name), []byte(content), 0o644)
}

// WriteCaseArchive creates a compressed archive of the case directory.
func (r *Reporter) WriteCaseArchive(c Case) (name string, codec string, err error) {
	archivePath := filepath.Join(c.Dir, CaseArchiveName)
	if removeErr := os.Remove(archivePath); removeErr != nil && !os.IsNotExist(removeErr) {
		return "", "", removeErr
	}
	defer func() {
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()
	file, err := os.Create(archivePath)
	if err != nil {
		return "", "", err
	}
	defer util.CloseWithErr(file, "archive output")

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if closeErr := zw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	tw := tar.NewWriter(zw)
	defer func() {
		if closeErr := tw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	walkErr := filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || path == archivePath {
			return nil
		}
		rel, err := filepath.Rel(c.Dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, src); err != nil {
			util.CloseWithErr(src, "archive source")
			return err
		}
		util.CloseWithErr(src, "archive source")
		return nil
	})
	if walkErr != nil {
		return "", "", walkErr
	}
	return CaseArchiveName, CaseArchiveCodec, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(f, "json output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
