package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docvet/internal/config"
	"docvet/internal/db"
	"docvet/internal/document"
	"docvet/internal/report"
)

type fakeSession struct {
	execs     []string
	queries   []string
	rollbacks int
	execErrs  map[string]error
	queryErrs map[string]error
	rows      map[string]db.Rows
}

func matchErr(errs map[string]error, sql string) error {
	for sub, err := range errs {
		if strings.Contains(sql, sub) {
			return err
		}
	}
	return nil
}

func (s *fakeSession) Exec(ctx context.Context, sql string) error {
	s.execs = append(s.execs, sql)
	return matchErr(s.execErrs, sql)
}

func (s *fakeSession) Query(ctx context.Context, sql string) (db.Rows, error) {
	s.queries = append(s.queries, sql)
	if err := matchErr(s.queryErrs, sql); err != nil {
		return db.Rows{}, err
	}
	for sub, rows := range s.rows {
		if strings.Contains(sql, sub) {
			return rows, nil
		}
	}
	return db.Rows{}, nil
}

func (s *fakeSession) WithRollback(ctx context.Context, fn func(db.Conn) error) error {
	s.rollbacks++
	return fn(s)
}

func (s *fakeSession) Close() {}

func newTestRunner(t *testing.T, sess *fakeSession) *Runner {
	t.Helper()
	cfg := config.Config{
		Schema:             "bookshop",
		StatementTimeoutMs: 1000,
		MaxCaptureRows:     10,
		Report:             config.ReportConfig{OutputDir: t.TempDir()},
	}
	return New(cfg, sess, report.New(cfg.Report.OutputDir, cfg.Report.ArchiveCases))
}

func fence(body string) string {
	return "```sql\n" + body + "\n```\n\n"
}

func mustExtract(t *testing.T, doc string) []document.Block {
	t.Helper()
	blocks, err := document.Extract(doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return blocks
}

const selectAllBooksDef = `CREATE OR REPLACE FUNCTION select_all_books()
RETURNS SETOF bookshop.books AS $$
BEGIN
    RETURN QUERY SELECT * FROM bookshop.books;
END;
$$ LANGUAGE plpgsql;`

const insertBookDef = `CREATE OR REPLACE PROCEDURE insert_book(p_name varchar) AS $$
BEGIN
    INSERT INTO bookshop.books (book_name) VALUES (p_name);
END;
$$ LANGUAGE plpgsql;`

func TestRunDefinitionsBeforeInvocations(t *testing.T) {
	// The invocation appears before its definition in the document;
	// phase ordering makes it succeed anyway.
	doc := fence("SELECT * FROM select_all_books();") + fence(selectAllBooksDef)
	sess := &fakeSession{}
	r := newTestRunner(t, sess)

	summary, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, doc))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Counts.Succeeded != 2 || summary.Counts.Total() != 2 {
		t.Fatalf("counts: %+v", summary.Counts)
	}
	if summary.Blocks[0].Kind != "invocation" || summary.Blocks[0].Status != report.StatusSucceeded {
		t.Fatalf("report must stay in document order: %+v", summary.Blocks[0])
	}
	if sess.rollbacks != 1 {
		t.Fatalf("expected 1 rolled-back transaction, got %d", sess.rollbacks)
	}
	if len(sess.queries) != 1 || !strings.Contains(sess.queries[0], "select_all_books()") {
		t.Fatalf("queries: %#v", sess.queries)
	}
	// Bootstrap drops and recreates the schema first; teardown drops it
	// again on the way out.
	if sess.execs[0] != "DROP SCHEMA IF EXISTS bookshop CASCADE" {
		t.Fatalf("first exec: %q", sess.execs[0])
	}
	if last := sess.execs[len(sess.execs)-1]; last != "DROP SCHEMA IF EXISTS bookshop CASCADE" {
		t.Fatalf("teardown missing, last exec: %q", last)
	}
}

func TestRunCapturesRows(t *testing.T) {
	doc := fence(insertBookDef) +
		fence("CALL insert_book('The Alchemist');\nSELECT * FROM bookshop.books;")
	sess := &fakeSession{
		rows: map[string]db.Rows{
			"SELECT * FROM bookshop.books": {
				Columns: []string{"book_id", "book_name"},
				Values:  [][]string{{"1", "The Alchemist"}},
			},
		},
	}
	r := newTestRunner(t, sess)

	summary, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, doc))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	blk := summary.Blocks[1]
	if blk.Status != report.StatusSucceeded {
		t.Fatalf("invocation status: %+v", blk)
	}
	if blk.Rows != 1 {
		t.Fatalf("captured rows: %d, want 1", blk.Rows)
	}
	if blk.Statements != 2 {
		t.Fatalf("statements: %d, want 2", blk.Statements)
	}
}

func TestRunDefinitionFailureSkipsDependents(t *testing.T) {
	doc := fence(insertBookDef) + fence("CALL insert_book('x');")
	sess := &fakeSession{
		execErrs: map[string]error{"CREATE OR REPLACE PROCEDURE": pgErr("42601")},
	}
	r := newTestRunner(t, sess)

	summary, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, doc))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	def, inv := summary.Blocks[0], summary.Blocks[1]
	if def.Status != report.StatusFailed || def.Error == "" || def.ErrorSQL == "" {
		t.Fatalf("definition report: %+v", def)
	}
	if inv.Status != report.StatusSkipped || inv.SkipReason != report.SkipDependencyFailed {
		t.Fatalf("invocation report: %+v", inv)
	}
	for _, q := range sess.queries {
		if strings.Contains(q, "CALL") {
			t.Fatalf("skipped invocation must not execute: %q", q)
		}
	}
	if summary.ExitCode() != 1 {
		t.Fatalf("exit code: %d", summary.ExitCode())
	}
	if def.CaseDir == "" {
		t.Fatal("failed block must get a case dir")
	}
	for _, name := range []string{"block.sql", "schema.sql", "summary.json"} {
		if _, err := os.Stat(filepath.Join(def.CaseDir, name)); err != nil {
			t.Fatalf("case artifact %s: %v", name, err)
		}
	}
}

func TestRunUnresolvedReference(t *testing.T) {
	doc := fence("SELECT log_admission(42);")
	sess := &fakeSession{}
	r := newTestRunner(t, sess)

	summary, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, doc))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	blk := summary.Blocks[0]
	if blk.Status != report.StatusUnresolved {
		t.Fatalf("status: %+v", blk)
	}
	if len(sess.queries) != 0 {
		t.Fatalf("unresolved invocation must not execute: %#v", sess.queries)
	}
	if summary.ExitCode() != 0 {
		t.Fatalf("unresolved examples must not fail the run: %d", summary.ExitCode())
	}
}

func TestRunTimeoutFailure(t *testing.T) {
	doc := fence(selectAllBooksDef) + fence("SELECT * FROM select_all_books();")
	sess := &fakeSession{
		queryErrs: map[string]error{"select_all_books()": context.DeadlineExceeded},
	}
	r := newTestRunner(t, sess)

	summary, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, doc))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	blk := summary.Blocks[1]
	if blk.Status != report.StatusFailed {
		t.Fatalf("status: %+v", blk)
	}
	if !strings.HasPrefix(blk.Error, "timeout: ") {
		t.Fatalf("error: %q", blk.Error)
	}
	if blk.ErrorSQL == "" {
		t.Fatal("failing statement must be recorded")
	}
}

func TestRunVignetteMissingTableIsSkipped(t *testing.T) {
	doc := fence("SELECT * FROM wards WHERE occupied;")
	sess := &fakeSession{
		queryErrs: map[string]error{"FROM wards": pgErr(codeUndefinedTable)},
	}
	r := newTestRunner(t, sess)

	summary, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, doc))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	blk := summary.Blocks[0]
	if blk.Status != report.StatusSkipped || blk.SkipReason != report.SkipNotExecutable {
		t.Fatalf("status: %+v", blk)
	}
	if summary.ExitCode() != 0 {
		t.Fatalf("not-executable snippet must not fail the run: %d", summary.ExitCode())
	}
}

func TestRunUndefinedRoutineAtRuntime(t *testing.T) {
	doc := fence(selectAllBooksDef) + fence("SELECT * FROM select_all_books();")
	sess := &fakeSession{
		queryErrs: map[string]error{"select_all_books()": pgErr(codeUndefinedFunction)},
	}
	r := newTestRunner(t, sess)

	summary, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, doc))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	blk := summary.Blocks[1]
	if blk.Status != report.StatusUnresolved || blk.Error == "" {
		t.Fatalf("status: %+v", blk)
	}
}

func TestRunKeepSchemaSkipsTeardown(t *testing.T) {
	sess := &fakeSession{}
	cfg := config.Config{
		Schema:             "bookshop",
		StatementTimeoutMs: 1000,
		KeepSchema:         true,
		Report:             config.ReportConfig{OutputDir: t.TempDir()},
	}
	r := New(cfg, sess, report.New(cfg.Report.OutputDir, false))

	if _, err := r.Run(context.Background(), "tutorial.md", mustExtract(t, fence("SELECT 1;"))); err != nil {
		t.Fatalf("run: %v", err)
	}
	drops := 0
	for _, sql := range sess.execs {
		if strings.HasPrefix(sql, "DROP SCHEMA") {
			drops++
		}
	}
	if drops != 1 {
		t.Fatalf("keep_schema run dropped the schema %d times, want 1 (bootstrap only)", drops)
	}
}
