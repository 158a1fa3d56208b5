// Package richtext builds the raw/html/plain-text triple used for every
// user-visible text field. All three representations are produced together
// by a single conversion routine so they can never drift apart.
package richtext

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Content is a text field represented three ways. Regenerate the whole
// triple via Render whenever the raw source changes; never mutate HTML or
// PlainText independently.
type Content struct {
	Raw       string `json:"raw"`
	HTML      string `json:"html"`
	PlainText string `json:"plain_text"`
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

var (
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
	inlineMathRe = regexp.MustCompile(`\$([^$]*)\$`)
	latexCmdRe  = regexp.MustCompile(`\\[a-zA-Z]+`)
	braceRe     = regexp.MustCompile(`[{}]`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Render converts markdown/LaTeX raw source into the full triple.
func Render(raw string) Content {
	var buf bytes.Buffer
	if err := md.Convert([]byte(raw), &buf); err != nil {
		// Markdown conversion is infallible for valid UTF-8; fall back to
		// the raw text wrapped in a paragraph if it ever is not.
		return Content{Raw: raw, HTML: "<p>" + raw + "</p>", PlainText: stripForPlainText(raw)}
	}
	return Content{
		Raw:       raw,
		HTML:      strings.TrimSpace(buf.String()),
		PlainText: stripForPlainText(raw),
	}
}

// stripForPlainText removes HTML tags and LaTeX syntax, leaving readable
// text for search indexing and previews.
func stripForPlainText(raw string) string {
	s := inlineMathRe.ReplaceAllString(raw, "$1")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = latexCmdRe.ReplaceAllString(s, "")
	s = braceRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
