package fields

import (
	"regexp"
	"strings"
)

var markdownRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile("(?m)^```[^\n]*$"), ""},
	{regexp.MustCompile("`([^`]*)`"), "$1"},
	{regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`), ""},
	{regexp.MustCompile(`(?m)^\s{0,3}>\s?`), ""},
	{regexp.MustCompile(`(?m)^\s*[-*+]\s+`), ""},
	{regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`), "$2"},
	{regexp.MustCompile(`~~(.+?)~~`), "$1"},
	{regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+)[*_]`), "$1$2"},
}

// StripMarkdown returns the plain text of a markdown value.
func StripMarkdown(value string) string {
	for _, rule := range markdownRules {
		value = rule.pattern.ReplaceAllString(value, rule.replacement)
	}

	return strings.TrimSpace(value)
}
