package document

import (
	"regexp"
	"strings"
)

var (
	functionDefRe  = regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?FUNCTION\s+([^\s(]+)`)
	procedureDefRe = regexp.MustCompile(`(?is)^CREATE\s+(?:OR\s+REPLACE\s+)?PROCEDURE\s+([^\s(]+)`)
	callRe         = regexp.MustCompile(`(?is)^CALL\s+([^\s(]+)`)
	routineCallRe  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)\s*\(`)
	dropRoutineRe  = regexp.MustCompile(`(?is)^DROP\s+(?:FUNCTION|PROCEDURE)\s+(?:IF\s+EXISTS\s+)?([^\s(;]+)`)
)

// builtins are call-syntax identifiers that never resolve to a
// documented routine; seeing one does not make a block an invocation.
var builtins = map[string]struct{}{
	"abs": {}, "array_agg": {}, "avg": {}, "cast": {}, "ceil": {},
	"coalesce": {}, "concat": {}, "count": {}, "current_date": {},
	"current_timestamp": {}, "date_part": {}, "date_trunc": {},
	"dense_rank": {}, "exists": {}, "extract": {}, "floor": {},
	"generate_series": {}, "greatest": {}, "in": {}, "lag": {},
	"lead": {}, "least": {}, "left": {}, "length": {}, "lower": {},
	"max": {}, "md5": {}, "min": {}, "mod": {}, "now": {},
	"nullif": {}, "percentile_cont": {}, "position": {}, "random": {},
	"rank": {}, "right": {}, "round": {}, "row_number": {},
	"string_agg": {}, "substring": {}, "sum": {}, "to_char": {},
	"to_date": {}, "to_timestamp": {}, "trim": {}, "trunc": {},
	"upper": {}, "values": {}, "raise": {}, "format": {},
}

// classify derives the block kind, declared name, and referenced
// routine names from the block's statements. Precedence: a block
// containing any routine definition is a definition block; otherwise
// CALL or a SELECT invoking a non-builtin routine makes it an
// invocation; a bare SELECT/WITH is a query; everything else
// (CREATE TABLE, INSERT, ...) is setup.
func classify(statements []string) Block {
	block := Block{Kind: KindSetup, Statements: statements}
	sawInvocation := false
	sawQuery := false
	for _, stmt := range statements {
		if m := functionDefRe.FindStringSubmatch(stmt); m != nil {
			if !block.IsDefinition() {
				block.Kind = KindFunctionDef
				block.DeclaredName = NormalizeName(m[1])
			}
			continue
		}
		if m := procedureDefRe.FindStringSubmatch(stmt); m != nil {
			if !block.IsDefinition() {
				block.Kind = KindProcedureDef
				block.DeclaredName = NormalizeName(m[1])
			}
			continue
		}
		if m := callRe.FindStringSubmatch(stmt); m != nil {
			sawInvocation = true
			block.References = appendRef(block.References, NormalizeName(m[1]))
			continue
		}
		if isSelect(stmt) {
			refs := routineReferences(stmt)
			if len(refs) > 0 {
				sawInvocation = true
				for _, ref := range refs {
					block.References = appendRef(block.References, ref)
				}
			} else {
				sawQuery = true
			}
			continue
		}
		if m := dropRoutineRe.FindStringSubmatch(stmt); m != nil {
			// DROP FUNCTION examples are setup; they neither define
			// nor invoke for dependency purposes.
			continue
		}
	}
	if block.IsDefinition() {
		return block
	}
	if sawInvocation {
		block.Kind = KindInvocation
	} else if sawQuery {
		block.Kind = KindQuery
	}
	return block
}

func isSelect(stmt string) bool {
	upper := strings.ToUpper(stmt)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// routineReferences lists non-builtin names used with call syntax.
func routineReferences(stmt string) []string {
	var refs []string
	for _, m := range routineCallRe.FindAllStringSubmatch(stmt, -1) {
		name := NormalizeName(m[1])
		if _, ok := builtins[name]; ok {
			continue
		}
		if isKeyword(name) {
			continue
		}
		refs = append(refs, name)
	}
	return refs
}

func isKeyword(name string) bool {
	switch name {
	case "select", "where", "and", "or", "not", "from", "join", "on",
		"group", "order", "having", "limit", "offset", "union", "as",
		"case", "when", "then", "else", "end", "distinct", "between",
		"like", "ilike", "is", "null", "over", "partition", "filter",
		"insert", "into", "update", "delete", "returning":
		return true
	default:
		return false
	}
}

// NormalizeName lowercases a routine name and strips quoting and any
// schema qualifier, so bookshop.insert_book and "insert_book" compare
// equal.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, `"`)
	if dot := strings.LastIndex(name, "."); dot >= 0 && dot+1 < len(name) {
		name = name[dot+1:]
	}
	return strings.ToLower(strings.Trim(name, `"`))
}

func appendRef(refs []string, name string) []string {
	if name == "" {
		return refs
	}
	for _, ref := range refs {
		if ref == name {
			return refs
		}
	}
	return append(refs, name)
}
