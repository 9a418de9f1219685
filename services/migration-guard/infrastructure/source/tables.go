package source

import (
	"regexp"
	"sort"
	"strings"
)

const identifier = `((?:"[^"]+"|[A-Za-z_][\w$]*)(?:\.(?:"[^"]+"|[A-Za-z_][\w$]*))?)`

type tablePattern struct {
	re    *regexp.Regexp
	group int
}

var tablePatterns = []tablePattern{
	{regexp.MustCompile(`(?i)\bCREATE\s+(?:(?:GLOBAL|LOCAL)\s+)?(?:(?:TEMP|TEMPORARY|UNLOGGED)\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + identifier), 1},
	{regexp.MustCompile(`(?i)\bALTER\s+TABLE\s+(?:IF\s+EXISTS\s+)?(?:ONLY\s+)?` + identifier), 1},
	{regexp.MustCompile(`(?i)\bALTER\s+TABLE\s+(?:IF\s+EXISTS\s+)?(?:ONLY\s+)?` + identifier + `\s+RENAME\s+TO\s+` + identifier), 2},
	{regexp.MustCompile(`(?i)\bCREATE\s+(?:UNIQUE\s+)?INDEX\s+(?:CONCURRENTLY\s+)?(?:(?:IF\s+NOT\s+EXISTS\s+)?` + identifier + `\s+)?ON\s+(?:ONLY\s+)?` + identifier), 2},
	{regexp.MustCompile(`(?i)\bCREATE\s+POLICY\s+` + identifier + `\s+ON\s+` + identifier), 2},
	{regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+` + identifier), 1},
	{regexp.MustCompile(`(?i)\bUPDATE\s+(?:ONLY\s+)?` + identifier + `(?:\s+(?:AS\s+)?\w+)?\s+SET\b`), 1},
	{regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+(?:ONLY\s+)?` + identifier), 1},
}

// list patterns name several tables separated by commas
var tableListPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?([^;]+?)(?:\s+(?:CASCADE|RESTRICT))?\s*$`),
	regexp.MustCompile(`(?i)\bTRUNCATE\s+(?:TABLE\s+)?(?:ONLY\s+)?([^;]+?)(?:\s+(?:RESTART|CONTINUE|CASCADE|RESTRICT)\b.*)?\s*$`),
}

// ExtractTables returns the sorted, de-duplicated tables the statements
// create, alter, drop or write to. Schema qualifiers and quotes are removed.
func ExtractTables(statements []string) []string {
	seen := make(map[string]struct{})
	add := func(raw string) {
		if name := normalizeTable(raw); name != "" {
			seen[name] = struct{}{}
		}
	}

	for _, stmt := range statements {
		for _, p := range tablePatterns {
			for _, m := range p.re.FindAllStringSubmatch(stmt, -1) {
				add(m[p.group])
			}
		}
		for _, re := range tableListPatterns {
			if m := re.FindStringSubmatch(stmt); m != nil {
				for _, part := range strings.Split(m[1], ",") {
					add(strings.TrimSpace(part))
				}
			}
		}
	}

	tables := make([]string, 0, len(seen))
	for name := range seen {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

func normalizeTable(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if dot := lastUnquotedDot(raw); dot >= 0 {
		raw = raw[dot+1:]
	}
	if strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2 {
		return raw[1 : len(raw)-1]
	}
	if fields := strings.Fields(raw); len(fields) > 0 {
		raw = fields[0]
	}
	return strings.ToLower(raw)
}

func lastUnquotedDot(s string) int {
	quoted := false
	last := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case '.':
			if !quoted {
				last = i
			}
		}
	}
	return last
}
