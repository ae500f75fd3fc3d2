package dsl

import (
	"regexp"
	"sort"
	"strings"
)

// Pre-compiled regex patterns for better performance
var (
	// {{ name }} with any number of leading backslashes, or ${name}
	placeholderRegex = regexp.MustCompile(`(\\*)(\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\})|\$\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)
)

// ProcessTemplate substitutes {{ name }} and ${name} placeholders with values
// from vars. Placeholders naming unknown variables are left untouched.
//
// Escaped handlebars follow backslash counting:
//
//	\{{ x }}   -> {{ x }}     (odd: literal handlebars)
//	\\{{ x }}  -> \value      (even: half the backslashes, then substitution)
//	\\\{{ x }} -> \{{ x }}
//
// Substitution is a single pass, so values containing placeholders are not
// expanded again.
func ProcessTemplate(input string, vars map[string]string) string {
	if input == "" || !strings.ContainsAny(input, "{$") {
		return input
	}

	return placeholderRegex.ReplaceAllStringFunc(input, func(match string) string {
		sub := placeholderRegex.FindStringSubmatch(match)

		if sub[4] != "" {
			if v, ok := vars[sub[4]]; ok {
				return v
			}
			return match
		}

		backslashes, handlebars, name := sub[1], sub[2], sub[3]
		prefix := strings.Repeat(`\`, len(backslashes)/2)
		if len(backslashes)%2 == 1 {
			return prefix + handlebars
		}
		if v, ok := vars[name]; ok {
			return prefix + v
		}
		return prefix + handlebars
	})
}

// ProcessTemplateMap applies ProcessTemplate to every value of m and returns
// a new map. Keys are not substituted.
func ProcessTemplateMap(m map[string]string, vars map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = ProcessTemplate(v, vars)
	}
	return out
}

// Placeholders lists the distinct unescaped variable names referenced by
// input, sorted.
func Placeholders(input string) []string {
	seen := make(map[string]struct{})
	for _, sub := range placeholderRegex.FindAllStringSubmatch(input, -1) {
		switch {
		case sub[4] != "":
			seen[sub[4]] = struct{}{}
		case len(sub[1])%2 == 0:
			seen[sub[3]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
