package document

import "strings"

// SplitStatements splits SQL text on `;` at top level only: semicolons
// inside single-quoted strings, double-quoted identifiers, comments,
// and dollar-quoted bodies ($$...$$ or $tag$...$tag$) do not split.
// An unterminated dollar-quoted body is a ParseError; routine bodies
// are the one place the document embeds whole statements and losing
// the closing tag silently would merge every following example into
// one garbled statement.
func SplitStatements(input string) ([]string, error) {
	var out []string
	var buf strings.Builder
	line := 1
	dollarOpenLine := 0
	inSingle := false
	inDouble := false
	inLineComment := false
	blockCommentDepth := 0
	dollarTag := ""
	for i := 0; i < len(input); i++ {
		ch := input[i]
		next := byte(0)
		if i+1 < len(input) {
			next = input[i+1]
		}
		if ch == '\n' {
			line++
		}
		if inLineComment {
			if ch == '\n' {
				inLineComment = false
			}
			buf.WriteByte(ch)
			continue
		}
		if blockCommentDepth > 0 {
			// Postgres block comments nest.
			if ch == '/' && next == '*' {
				blockCommentDepth++
				buf.WriteString("/*")
				i++
				continue
			}
			if ch == '*' && next == '/' {
				blockCommentDepth--
				buf.WriteString("*/")
				i++
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		if dollarTag != "" {
			if ch == '$' {
				if tag, width := readDollarTag(input[i:]); width > 0 && tag == dollarTag {
					buf.WriteString(input[i : i+width])
					i += width - 1
					dollarTag = ""
					continue
				}
			}
			buf.WriteByte(ch)
			continue
		}
		if inSingle {
			if ch == '\'' && next == '\'' {
				buf.WriteString("''")
				i++
				continue
			}
			if ch == '\'' {
				inSingle = false
			}
			buf.WriteByte(ch)
			continue
		}
		if inDouble {
			if ch == '"' && next == '"' {
				buf.WriteString(`""`)
				i++
				continue
			}
			if ch == '"' {
				inDouble = false
			}
			buf.WriteByte(ch)
			continue
		}
		switch {
		case ch == '-' && next == '-':
			inLineComment = true
			buf.WriteString("--")
			i++
		case ch == '/' && next == '*':
			blockCommentDepth = 1
			buf.WriteString("/*")
			i++
		case ch == '\'':
			inSingle = true
			buf.WriteByte(ch)
		case ch == '"':
			inDouble = true
			buf.WriteByte(ch)
		case ch == '$':
			if tag, width := readDollarTag(input[i:]); width > 0 {
				dollarTag = tag
				dollarOpenLine = line
				buf.WriteString(input[i : i+width])
				i += width - 1
			} else {
				buf.WriteByte(ch)
			}
		case ch == ';':
			stmt := strings.TrimSpace(buf.String())
			if stmt != "" {
				out = append(out, stmt)
			}
			buf.Reset()
		default:
			buf.WriteByte(ch)
		}
	}
	if dollarTag != "" {
		return nil, &ParseError{Line: dollarOpenLine, Msg: "unterminated dollar-quoted body " + dollarTag}
	}
	if stmt := strings.TrimSpace(buf.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out, nil
}

// readDollarTag reports the full delimiter ($$, $body$, ...) starting
// at s, or width 0 when s does not open a dollar quote.
func readDollarTag(s string) (tag string, width int) {
	if len(s) < 2 || s[0] != '$' {
		return "", 0
	}
	for i := 1; i < len(s); i++ {
		ch := s[i]
		if ch == '$' {
			return s[:i+1], i + 1
		}
		if !isTagChar(ch, i == 1) {
			return "", 0
		}
	}
	return "", 0
}

func isTagChar(ch byte, first bool) bool {
	if ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
		return true
	}
	return !first && ch >= '0' && ch <= '9'
}
