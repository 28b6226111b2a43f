// Package builtin contains the standard flowtree plugin set: id
// normalisation, function/action/template/info extraction, and the
// external-formatter passes.
package builtin

import (
	"os"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonWordRe   = regexp.MustCompile(`[^\w\s-]`)
	separatorRe = regexp.MustCompile(`[-\s]+`)
)

// lifecycleFields fixes the processing order of the secondary function
// fields so file lists come out deterministic.
var lifecycleFields = []struct {
	field  string
	suffix string
}{
	{"initialize", ".initialize.js"},
	{"finalize", ".finalize.js"},
}

// foldDiacritics strips combining marks so "Prozeß Dätä" slugs cleanly.
var foldDiacritics = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// slugify converts display text to a lowercase underscore slug.
func slugify(text string) string {
	folded, _, err := transform.String(foldDiacritics, text)
	if err == nil {
		text = folded
	}
	text = strings.ToLower(text)
	text = nonWordRe.ReplaceAllString(text, "")
	text = separatorRe.ReplaceAllString(text, "_")
	return strings.Trim(text, "_")
}

// toCamelCase converts display text to a camelCase identifier.
func toCamelCase(text string) string {
	parts := strings.FieldsFunc(slugify(text), func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return "unnamed"
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 || !isIdentStart(rune(b.String()[0])) {
		return "fn" + b.String()
	}
	return b.String()
}

// toSnakeCase converts display text to a snake_case identifier.
func toSnakeCase(text string) string {
	s := slugify(text)
	if s == "" {
		return "unnamed"
	}
	return s
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

// extractFunctionBody locates a function opener matching openerRe (whose
// first capture group is the parameter list and whose match ends at the
// opening brace), then balances braces to isolate the body. Returns the
// params, the body between the braces, and whether a balanced body was
// found.
func extractFunctionBody(code string, openerRe *regexp.Regexp) (string, string, bool) {
	loc := openerRe.FindStringSubmatchIndex(code)
	if loc == nil {
		return "", "", false
	}
	params := code[loc[2]:loc[3]]

	// The opener pattern ends at the opening brace.
	open := loc[1] - 1
	if open < 0 || code[open] != '{' {
		return "", "", false
	}

	depth := 1
	for i := open + 1; i < len(code); i++ {
		switch code[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return params, code[open+1 : i], true
			}
		}
	}
	return "", "", false
}

// trimWrapNewlines removes exactly one leading and one trailing newline,
// the ones added when the body was wrapped.
func trimWrapNewlines(body string) string {
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")
	return body
}

// dedent strips the longest common leading whitespace from every
// non-empty line, undoing indentation the formatter may have added.
func dedent(body string) string {
	lines := strings.Split(body, "\n")
	margin := ""
	first := true
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := line[:len(line)-len(trimmed)]
		if first {
			margin = indent
			first = false
			continue
		}
		margin = commonPrefix(margin, indent)
	}
	if margin == "" {
		return body
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, margin)
	}
	return strings.Join(lines, "\n")
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}

// readIfExists returns the file contents and true, or "" and false when
// the file is absent. Other errors read as absent; the rebuild falls
// back to placeholders.
func readIfExists(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
