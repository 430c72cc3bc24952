// Package document extracts and classifies the SQL example blocks
// embedded in a markdown tutorial document.
package document

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags an extracted block by its leading statement.
type Kind int

// Block kinds.
const (
	KindSetup Kind = iota
	KindFunctionDef
	KindProcedureDef
	KindInvocation
	KindQuery
)

// String returns the report label for the kind.
func (k Kind) String() string {
	switch k {
	case KindFunctionDef:
		return "function_def"
	case KindProcedureDef:
		return "procedure_def"
	case KindInvocation:
		return "invocation"
	case KindQuery:
		return "query"
	default:
		return "setup"
	}
}

// Block is one fenced SQL region of the document. Immutable once extracted.
type Block struct {
	ID           int
	Kind         Kind
	Raw          string
	Statements   []string
	DeclaredName string
	References   []string
	Line         int
}

// IsDefinition reports whether the block defines a routine.
func (b Block) IsDefinition() bool {
	return b.Kind == KindFunctionDef || b.Kind == KindProcedureDef
}

// ParseError marks a malformed document. It aborts the whole run.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Msg)
}

var sqlFenceTags = map[string]struct{}{
	"sql":        {},
	"postgres":   {},
	"postgresql": {},
	"plpgsql":    {},
	"pgsql":      {},
}

// Extract scans the document text for fenced SQL code regions and
// returns one classified Block per region, in document order.
// It is a pure parse; nothing is executed.
func Extract(text string) ([]Block, error) {
	regions, err := extractFences(text)
	if err != nil {
		return nil, err
	}
	blocks := make([]Block, 0, len(regions))
	for _, region := range regions {
		statements, err := SplitStatements(region.body)
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				perr.Line += region.line
				return nil, perr
			}
			return nil, err
		}
		if len(statements) == 0 {
			continue
		}
		block := classify(statements)
		block.ID = len(blocks)
		block.Raw = strings.TrimSpace(region.body)
		block.Line = region.line
		blocks = append(blocks, block)
	}
	return blocks, nil
}

type fenceRegion struct {
	body string
	line int
}

func extractFences(text string) ([]fenceRegion, error) {
	var regions []fenceRegion
	lines := strings.Split(text, "\n")
	inFence := false
	fenceIsSQL := false
	fenceStart := 0
	var body strings.Builder
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inFence {
			if !strings.HasPrefix(trimmed, "```") {
				continue
			}
			inFence = true
			fenceStart = i + 1
			tag := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "`")))
			_, fenceIsSQL = sqlFenceTags[tag]
			body.Reset()
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = false
			if fenceIsSQL {
				regions = append(regions, fenceRegion{body: body.String(), line: fenceStart})
			}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if inFence {
		return nil, &ParseError{Line: fenceStart, Msg: "unterminated code fence"}
	}
	return regions, nil
}
