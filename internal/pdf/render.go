// Package pdf turns the HTML a chain produces into a PDF document.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/microcosm-cc/bluemonday"
)

var ErrEmpty = errors.New("pdf: empty document")

var (
	policy = func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowElements("b", "strong", "i", "em", "u", "br", "p", "div",
			"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li")
		return p
	}()

	spaces = regexp.MustCompile(`\s+`)
	breaks = regexp.MustCompile(`(\s*<br>\s*){3,}`)
	markup = regexp.MustCompile(`</?[a-z]+>`)

	// HTMLBasic only knows b, i, u and br; everything else is mapped onto them.
	tags = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<h1>", "<br><b>", "</h1>", "</b><br>",
		"<h2>", "<br><b>", "</h2>", "</b><br>",
		"<h3>", "<br><b>", "</h3>", "</b><br>",
		"<h4>", "<b>", "</h4>", "</b><br>",
		"<h5>", "<b>", "</h5>", "</b><br>",
		"<h6>", "<b>", "</h6>", "</b><br>",
		"<p>", "", "</p>", "<br><br>",
		"<div>", "", "</div>", "<br>",
		"<ul>", "<br>", "</ul>", "<br>",
		"<ol>", "<br>", "</ol>", "<br>",
		"<li>", "- ", "</li>", "<br>",
		"<br/>", "<br>", "<br />", "<br>",
	)

	// Escaped angle brackets must not turn back into tags.
	entities = strings.NewReplacer("&lt;", "‹", "&gt;", "›")
)

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// prepare reduces arbitrary model output to the markup HTMLBasic renders.
func prepare(raw string) string {
	s := policy.Sanitize(stripFences(raw))
	s = spaces.ReplaceAllString(s, " ")
	s = tags.Replace(s)
	s = breaks.ReplaceAllString(s, "<br><br>")
	s = strings.TrimPrefix(strings.TrimSpace(s), "<br>")
	s = html.UnescapeString(entities.Replace(s))
	return strings.TrimSpace(s)
}

// Render lays the HTML out on A4 pages and returns the PDF bytes.
func Render(htmlText string) ([]byte, error) {
	body := prepare(htmlText)
	if strings.TrimSpace(markup.ReplaceAllString(body, "")) == "" {
		return nil, ErrEmpty
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(20, 20, 20)
	doc.SetAutoPageBreak(true, 20)
	doc.AddPage()
	doc.SetFont("Helvetica", "", 11)

	tr := doc.UnicodeTranslatorFromDescriptor("")
	hb := doc.HTMLBasicNew()
	hb.Write(5.5, tr(body))

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	return buf.Bytes(), nil
}
