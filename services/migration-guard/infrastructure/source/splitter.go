package source

import (
	"strings"
)

// SplitStatements splits a SQL script on top-level semicolons. Semicolons
// inside quoted strings, quoted identifiers, comments and dollar-quoted bodies
// do not terminate a statement. Comments are dropped and empty statements are
// skipped.
func SplitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	n := len(script)
	for i := 0; i < n; {
		c := script[i]

		switch {
		case c == '-' && i+1 < n && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = n
				continue
			}
			i += end

		case c == '/' && i+1 < n && script[i+1] == '*':
			i = skipBlockComment(script, i)
			current.WriteByte(' ')

		case c == '\'':
			escapes := i > 0 && (script[i-1] == 'E' || script[i-1] == 'e') && (i < 2 || !isIdentByte(script[i-2]))
			end := scanQuoted(script, i, '\'', escapes)
			current.WriteString(script[i:end])
			i = end

		case c == '"':
			end := scanQuoted(script, i, '"', false)
			current.WriteString(script[i:end])
			i = end

		case c == '$':
			if tag, ok := dollarTag(script, i); ok && (i == 0 || !isIdentByte(script[i-1])) {
				body := strings.Index(script[i+len(tag):], tag)
				end := n
				if body >= 0 {
					end = i + len(tag) + body + len(tag)
				}
				current.WriteString(script[i:end])
				i = end
				continue
			}
			current.WriteByte(c)
			i++

		case c == ';':
			flush()
			i++

		default:
			current.WriteByte(c)
			i++
		}
	}
	flush()

	return statements
}

// skipBlockComment returns the index after the comment starting at i.
// Block comments nest.
func skipBlockComment(script string, i int) int {
	depth := 0
	for i < len(script) {
		switch {
		case strings.HasPrefix(script[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(script[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return i
}

// scanQuoted returns the index after the quoted run starting at i. A doubled
// quote is an escaped quote; with escapes a backslash escapes the next byte.
func scanQuoted(script string, i int, quote byte, escapes bool) int {
	i++
	for i < len(script) {
		c := script[i]
		switch {
		case escapes && c == '\\':
			i += 2
		case c == quote:
			if i+1 < len(script) && script[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		default:
			i++
		}
	}
	return len(script)
}

// dollarTag reads a $tag$ or $$ opener at i. Positional parameters like $1
// are not tags.
func dollarTag(script string, i int) (string, bool) {
	j := i + 1
	for j < len(script) && script[j] != '$' {
		c := script[j]
		if !isIdentByte(c) || (j == i+1 && c >= '0' && c <= '9') {
			return "", false
		}
		j++
	}
	if j >= len(script) {
		return "", false
	}
	return script[i : j+1], true
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
