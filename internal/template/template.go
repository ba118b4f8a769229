// Package template renders message bodies by literal {{key}} substitution.
// It is deliberately not text/template: values are inserted verbatim with no
// escaping, and placeholders without a matching key stay in the output.
package template

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_.-]+)\}\}`)

// Render replaces every occurrence of {{key}} with vars[key]. Keys absent
// from vars are left untouched.
func Render(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// Placeholders lists the distinct placeholder keys in body, in order of
// first appearance. Used to validate campaign templates before a batch
// is accepted.
func Placeholders(body string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
