package document

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitStatementsBasic(t *testing.T) {
	stmts, err := SplitStatements("SELECT 1;\nSELECT 2;\n")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %#v", len(stmts), stmts)
	}
	if stmts[0] != "SELECT 1" || stmts[1] != "SELECT 2" {
		t.Fatalf("unexpected statements: %#v", stmts)
	}
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	stmts, err := SplitStatements("SELECT 1; SELECT 2")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(stmts) != 2 || stmts[1] != "SELECT 2" {
		t.Fatalf("unexpected statements: %#v", stmts)
	}
}

func TestSplitStatementsDollarQuotedBody(t *testing.T) {
	input := `CREATE FUNCTION f() RETURNS int AS $$
BEGIN
    RETURN 1;
END;
$$ LANGUAGE plpgsql;
SELECT f();`
	stmts, err := SplitStatements(input)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %#v", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "RETURN 1;") {
		t.Fatalf("body semicolons must not split: %q", stmts[0])
	}
}

func TestSplitStatementsTaggedDollarQuote(t *testing.T) {
	input := `CREATE FUNCTION g() RETURNS text AS $body$
BEGIN
    RETURN 'a $$ is not a closer here; neither is this';
END;
$body$ LANGUAGE plpgsql;`
	stmts, err := SplitStatements(input)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d: %#v", len(stmts), stmts)
	}
}

func TestSplitStatementsQuotedStrings(t *testing.T) {
	stmts, err := SplitStatements(`INSERT INTO t VALUES ('a;b', 'it''s');
SELECT "weird;name" FROM t;`)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %#v", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "'it''s'") {
		t.Fatalf("escaped quote mangled: %q", stmts[0])
	}
}

func TestSplitStatementsComments(t *testing.T) {
	input := `SELECT 1; -- trailing; comment
/* block; comment /* nested; */ still inside; */ SELECT 2;`
	stmts, err := SplitStatements(input)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %#v", len(stmts), stmts)
	}
	if !strings.HasSuffix(stmts[1], "SELECT 2") {
		t.Fatalf("unexpected second statement: %q", stmts[1])
	}
}

func TestSplitStatementsUnterminatedDollarQuote(t *testing.T) {
	input := "SELECT 1;\nCREATE FUNCTION f() RETURNS int AS $$\nBEGIN RETURN 1; END"
	_, err := SplitStatements(input)
	if err == nil {
		t.Fatal("expected parse error")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if perr.Line != 2 {
		t.Fatalf("expected error at line 2, got %d", perr.Line)
	}
}

func TestReadDollarTag(t *testing.T) {
	cases := []struct {
		in    string
		tag   string
		width int
	}{
		{"$$body$$", "$$", 2},
		{"$body$...", "$body$", 6},
		{"$1bad$", "", 0},
		{"$ not a tag", "", 0},
		{"$", "", 0},
	}
	for _, tc := range cases {
		tag, width := readDollarTag(tc.in)
		if tag != tc.tag || width != tc.width {
			t.Fatalf("readDollarTag(%q) = (%q, %d), want (%q, %d)", tc.in, tag, width, tc.tag, tc.width)
		}
	}
}
