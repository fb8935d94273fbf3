// Package sanitizer cleans admin-authored HTML before it is stored and rendered
// on the public product pages.
package sanitizer

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// HTMLSanitizer cleans product description markup
type HTMLSanitizer interface {
	// Sanitize applies the description policy to html
	Sanitize(html string) string
	// PlainText strips all markup, for listings and meta descriptions
	PlainText(html string) string
}

// DescriptionSanitizer implements HTMLSanitizer using bluemonday
type DescriptionSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<(script|style|noscript|iframe)[^>]*>.*?</(script|style|noscript|iframe)>`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// NewDescriptionSanitizer allows headings, lists, tables and emphasis. Links are
// limited to http, https and mailto, are marked nofollow and noreferrer, and open
// in a new tab when fully qualified.
// Images are not allowed; product images go through object storage.
func NewDescriptionSanitizer() *DescriptionSanitizer {
	policy := bluemonday.NewPolicy()

	policy.AllowElements(
		"p", "br", "hr", "span",
		"h2", "h3", "h4",
		"strong", "b", "em", "i", "u", "s", "small", "sup", "sub",
		"blockquote", "code",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	policy.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("th", "td")
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-z0-9\- ]{1,64}$`)).OnElements("span", "p", "table")

	policy.AllowAttrs("href").OnElements("a")
	policy.AllowURLSchemes("http", "https", "mailto")
	policy.RequireParseableURLs(true)
	policy.RequireNoFollowOnLinks(true)
	policy.RequireNoReferrerOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &DescriptionSanitizer{
		policy: policy,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize applies the description policy. Script-like blocks are dropped with
// their content before the policy runs, so their text never leaks into the page.
func (s *DescriptionSanitizer) Sanitize(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	html = scriptBlock.ReplaceAllString(html, "")
	return strings.TrimSpace(s.policy.Sanitize(html))
}

// PlainText removes all markup and collapses whitespace
func (s *DescriptionSanitizer) PlainText(html string) string {
	if html == "" {
		return ""
	}
	html = scriptBlock.ReplaceAllString(html, "")
	text := s.strict.Sanitize(html)
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
