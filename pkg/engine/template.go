package engine

import "regexp"

var templateToken = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// RenderTemplate substitutes {{field_name}} tokens with values from the
// subject entity. It is deliberately inert: case-sensitive identifiers,
// no nesting, no expressions, and unknown tokens are left as literal
// text so a config typo can never abort a run.
func RenderTemplate(template string, fields map[string]string) string {
	return templateToken.ReplaceAllStringFunc(template, func(token string) string {
		name := token[2 : len(token)-2]
		if value, ok := fields[name]; ok {
			return value
		}
		return token
	})
}
