// Package templating substitutes {{field}} placeholders in bulk email
// subjects and bodies.
package templating

import (
	"html"
	"regexp"
	"strings"
)

// placeholder matches {{fieldName}}. Names are matched exactly and
// case-sensitively; surrounding whitespace inside the braces is not allowed.
var placeholder = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Fields maps placeholder names to raw, unescaped values.
type Fields map[string]string

// RenderHTML substitutes every placeholder with the HTML-escaped field value.
// Unknown names render as the empty string. The template text itself is
// trusted and left as is.
func RenderHTML(tmpl string, fields Fields) string {
	return render(tmpl, fields, html.EscapeString)
}

// RenderText substitutes placeholders for single-line header values such as
// the subject. Line breaks are removed from both values and result so a
// profile field cannot inject extra headers.
func RenderText(tmpl string, fields Fields) string {
	out := render(tmpl, fields, stripLineBreaks)
	return stripLineBreaks(out)
}

func render(tmpl string, fields Fields, escape func(string) string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[2 : len(token)-2]

		v, ok := fields[name]
		if !ok {
			return ""
		}
		return escape(v)
	})
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func stripLineBreaks(s string) string {
	return lineBreaks.Replace(s)
}

// Placeholders lists the distinct field names referenced by tmpl, in order of
// first appearance.
func Placeholders(tmpl string) []string {
	matches := placeholder.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))

	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}

	return out
}
