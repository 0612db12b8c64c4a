// Copyright © 2025 Benjamin Schmitz

// This file is part of Metafold <https://github.com/Vortex375/metafold>.

// Metafold is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License
// as published by the Free Software Foundation,
// either version 3 of the License, or (at your option)
// any later version.

// Metafold is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with Metafold.  If not, see <http://www.gnu.org/licenses/>.

package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Template is the compiled form of a path template string.
//
// The template language:
//
//	{path}           required variable, interpolation fails if missing
//	{path?}          optional, elided if missing
//	{path?(inner)}   inner subtemplate included iff path is present and
//	                 the inner template itself interpolates
//	{path|fallback}  second field lookup, or literal default
//	{path:format}    padN, upper/uppercase, lower/lowercase
//
// Path segments separate with "." or "/". Unmatched braces render as
// literals.
type Template struct {
	source   string
	segments []segment
}

type segment struct {
	literal string // non-expression text, exclusive with path
	expr    *expr
}

type expr struct {
	path     string // dot-normalized
	optional bool
	inner    *Template // only with optional
	format   string
	fallback *fallback
}

type fallback struct {
	path    string // dot-normalized field lookup, or
	literal string
}

// ParseTemplate compiles a template string. Unmatched braces become
// literals; a malformed expression inside matched braces is an error.
func ParseTemplate(source string) (*Template, error) {
	t := &Template{source: source}

	rest := source
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segments = append(t.segments, segment{literal: rest})
			break
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}
		rest = rest[open:]

		end := matchingBrace(rest)
		if end < 0 {
			// unmatched brace renders as literal
			t.segments = append(t.segments, segment{literal: rest})
			break
		}

		e, err := parseExpr(rest[1:end])
		if err != nil {
			return nil, fmt.Errorf("in %q: %w", rest[:end+1], err)
		}
		t.segments = append(t.segments, segment{expr: e})
		rest = rest[end+1:]
	}

	return t, nil
}

// matchingBrace returns the index of the brace closing s[0] or -1.
func matchingBrace(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseExpr(s string) (*expr, error) {
	if s == "" {
		return nil, fmt.Errorf("empty expression")
	}

	i := 0
	for i < len(s) && isPathChar(rune(s[i])) {
		i++
	}
	path := s[:i]
	if !isPath(path) {
		return nil, fmt.Errorf("invalid variable path %q", path)
	}

	e := &expr{path: NormalizePath(path)}

	if i == len(s) {
		return e, nil
	}

	switch s[i] {
	case '?':
		e.optional = true
		rest := s[i+1:]
		if rest == "" {
			return e, nil
		}
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return nil, fmt.Errorf("unexpected text after '?': %q", rest)
		}
		inner, err := ParseTemplate(rest[1 : len(rest)-1])
		if err != nil {
			return nil, err
		}
		e.inner = inner
		return e, nil

	case ':':
		format := s[i+1:]
		if !isValidFormat(format) {
			return nil, fmt.Errorf("unknown format %q", format)
		}
		e.format = format
		return e, nil

	case '|':
		fb := s[i+1:]
		if fb == "" {
			return nil, fmt.Errorf("empty fallback")
		}
		if isPath(fb) {
			// field-name grammar takes precedence over literal defaults
			e.fallback = &fallback{path: NormalizePath(fb)}
		} else {
			e.fallback = &fallback{literal: fb}
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unexpected character %q", s[i])
	}
}

func isPathChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '/'
}

// isPath reports whether s matches the field-name grammar:
// identifiers separated by "." or "/", each starting with a letter
// or underscore.
func isPath(s string) bool {
	if s == "" {
		return false
	}
	for _, ident := range strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '/' }) {
		if !isIdent(ident) {
			return false
		}
	}
	// FieldsFunc swallows empty segments, so check for them explicitly
	if strings.Contains(s, "..") || strings.Contains(s, "//") ||
		strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") ||
		strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return false
	}
	return true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !unicode.IsLetter(r) && r != '_' {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

func isValidFormat(format string) bool {
	switch format {
	case "upper", "uppercase", "lower", "lowercase":
		return true
	}
	if n, found := strings.CutPrefix(format, "pad"); found {
		_, err := strconv.Atoi(n)
		return err == nil
	}
	return false
}

// Render interpolates the template against lookup. ok is false when a
// required variable (including both sides of a field fallback) is missing.
func (t *Template) Render(lookup Lookup) (string, bool) {
	var b strings.Builder

	for _, seg := range t.segments {
		if seg.expr == nil {
			b.WriteString(seg.literal)
			continue
		}

		e := seg.expr
		value, ok := lookup(e.path)

		if e.inner != nil {
			// included iff the path is present and the inner template
			// itself interpolates
			if !ok {
				continue
			}
			if inner, innerOk := e.inner.Render(lookup); innerOk {
				b.WriteString(inner)
			}
			continue
		}

		if !ok {
			if e.optional {
				continue
			}
			if e.fallback != nil {
				if e.fallback.path != "" {
					value, ok = lookup(e.fallback.path)
					if !ok {
						return "", false
					}
				} else {
					value = e.fallback.literal
				}
			} else {
				return "", false
			}
		}

		b.WriteString(applyFormat(value, e.format))
	}

	return b.String(), true
}

func applyFormat(value string, format string) string {
	switch format {
	case "":
		return value
	case "upper", "uppercase":
		return strings.ToUpper(value)
	case "lower", "lowercase":
		return strings.ToLower(value)
	}
	if n, found := strings.CutPrefix(format, "pad"); found {
		width, err := strconv.Atoi(n)
		if err != nil {
			return value
		}
		for len(value) < width {
			value = "0" + value
		}
		return value
	}
	return value
}

// Variables returns every variable path referenced by the template,
// including field fallbacks and conditional subtemplates.
func (t *Template) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	t.collectVariables(seen, &out)
	return out
}

func (t *Template) collectVariables(seen map[string]bool, out *[]string) {
	for _, seg := range t.segments {
		if seg.expr == nil {
			continue
		}
		e := seg.expr
		if !seen[e.path] {
			seen[e.path] = true
			*out = append(*out, e.path)
		}
		if e.fallback != nil && e.fallback.path != "" && !seen[e.fallback.path] {
			seen[e.fallback.path] = true
			*out = append(*out, e.fallback.path)
		}
		if e.inner != nil {
			e.inner.collectVariables(seen, out)
		}
	}
}
