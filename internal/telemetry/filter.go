package telemetry

import (
	"regexp"
	"strings"
)

// defaultExcludePatterns are well-known analytics/tracking domains excluded
// by default. includeAll disables this list entirely.
var defaultExcludePatterns = []string{
	"*google-analytics.com*",
	"*googletagmanager.com*",
	"*doubleclick.net*",
	"*segment.io*",
	"*segment.com*",
	"*mixpanel.com*",
	"*hotjar.com*",
	"*fullstory.com*",
	"*amplitude.com*",
	"*facebook.net*",
	"*connect.facebook.net*",
	"*intercom.io*",
	"*sentry.io*",
	"*bugsnag.com*",
}

// URLFilter decides whether a request URL should be kept, applying
// spec's precedence rule: include always trumps exclude; if include
// patterns are configured and none match, the URL is excluded.
type URLFilter struct {
	includeAll bool
	include    []string
	exclude    []string
}

// NewURLFilter builds a filter. When includeAll is true, the default
// exclude list is disabled (user excludePatterns still apply).
func NewURLFilter(includeAll bool, includePatterns, excludePatterns []string) *URLFilter {
	f := &URLFilter{
		includeAll: includeAll,
		include:    includePatterns,
	}
	if !includeAll {
		f.exclude = append(f.exclude, defaultExcludePatterns...)
	}
	f.exclude = append(f.exclude, excludePatterns...)
	return f
}

// Allow reports whether url should be kept in the output.
func (f *URLFilter) Allow(url string) bool {
	if matchAny(f.include, url) {
		return true
	}
	if len(f.include) > 0 {
		// Include patterns configured but none matched: excluded regardless
		// of the exclude list.
		return false
	}
	return !matchAny(f.exclude, url)
}

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if match(p, s) {
			return true
		}
	}
	return false
}

// match is a wildcard-glob matcher ('*' and '?') against the whole
// string. Unlike filepath.Match, '*' here matches across '/' too — these
// patterns are matched against full URLs (e.g. "*google-analytics.com*"),
// not filesystem paths, so a glob that stops at a path separator would
// never match anything. match(s, s) and match("*", s) are always true.
func match(pattern, s string) bool {
	if pattern == s || pattern == "*" {
		return true
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// globToRegexp translates a '*'/'?' glob into an anchored regexp, the
// same way the teacher's network.go builds its --url filter
// (regexp.Compile over a user pattern) rather than relying on
// filepath.Match's path-separator semantics.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
