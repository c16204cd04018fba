package portal

import (
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// snippetPolicy keeps the structure of portal menus and alerts (links,
// lists, titles) and drops scripts, handlers and styling.
func snippetPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("a", "ul", "ol", "li", "div", "span", "i", "p", "strong", "em", "br", "button")
	p.AllowAttrs("href", "title", "class").Globally()
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https")
	return p
}

// Snippeter turns portal HTML fragments into short, safe, one-line text for
// run logs.
type Snippeter struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
	max    int
}

// NewSnippeter returns a Snippeter truncating at max runes.
func NewSnippeter(max int) *Snippeter {
	return &Snippeter{
		policy: snippetPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		max: max,
	}
}

// Render sanitizes html, converts it to markdown and collapses whitespace.
// When conversion fails the sanitized HTML is used instead.
func (s *Snippeter) Render(html string) string {
	clean := s.policy.Sanitize(html)
	out, err := s.conv.ConvertString(clean)
	if err != nil || strings.TrimSpace(out) == "" {
		out = clean
	}
	return truncate(strings.Join(strings.Fields(out), " "), s.max)
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

// rowCells extracts the trimmed text of each cell from a row's inner HTML.
// Rows are parsed locally so that one browser round-trip serves all cells.
func rowCells(innerHTML, cellSelector string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<table><tbody><tr>" + innerHTML + "</tr></tbody></table>"))
	if err != nil {
		return nil
	}
	var cells []string
	doc.Find("tr").First().ChildrenFiltered(cellSelector).Each(func(_ int, s *goquery.Selection) {
		cells = append(cells, strings.Join(strings.Fields(s.Text()), " "))
	})
	return cells
}
