package htmlutil

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var tracer = otel.Tracer("portalbridge.pkg.htmlutil")

// elements after which the text continues on a new line
var blocks = map[atom.Atom]bool{
	atom.Br:    true,
	atom.P:     true,
	atom.Div:   true,
	atom.Li:    true,
	atom.Tr:    true,
	atom.H1:    true,
	atom.H2:    true,
	atom.H3:    true,
	atom.H4:    true,
	atom.Table: true,
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && blocks[n.DataAtom] {
		b.WriteByte('\n')
	}
}

var (
	innerWhitespace = regexp.MustCompile(`[ \t]{2,}`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
)

// CleanText collapses runs of whitespace and strips non printable runes while
// keeping paragraph breaks.
func CleanText(s string) string {
	s = strings.NewReplacer("\r\n", "\n", "\u00a0", " ").Replace(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(innerWhitespace.ReplaceAllString(l, " "))
	}
	s = manyNewlines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.Trim(s, " \t\n")
}

// Text returns the cleaned text content of every node in sel.
func Text(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeText(&b, n)
	}
	return CleanText(b.String())
}

// TextFromHTML parses an html fragment and returns its cleaned text.
func TextFromHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return CleanText(fragment)
	}
	return Text(doc.Find("body"))
}

type Link struct {
	Name string
	URL  *url.URL
}

// Links resolves the href of every anchor in sel against base, anchors
// without a parseable href are skipped.
func Links(ctx context.Context, base *url.URL, sel *goquery.Selection) []Link {
	_, span := tracer.Start(ctx, "Links")
	defer span.End()

	var links []Link
	sel.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "unparseable href")
			return
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		name := strings.ReplaceAll(Text(a), "\n", " ")
		links = append(links, Link{Name: name, URL: u})
		span.AddEvent("link", trace.WithAttributes(
			attribute.String("name", name),
			attribute.String("url", u.String()),
		))
	})
	return links
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

// ParseDate parses the date formats found in datetime attributes and
// listings, values without a zone are read in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown date format %q", value)
}
