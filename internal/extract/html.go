package extract

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"sibyl/internal/text"
)

// Page is the reduced form of one crawled HTML document.
type Page struct {
	Title   string
	Content string
}

// ErrInsufficientContent marks pages whose usable text is too short to be
// worth indexing (redirect stubs, cookie walls, image-only pages).
var ErrInsufficientContent = errors.New("insufficient content")

var removeSelectors = []string{
	"nav", "header", "footer", "aside", "script", "style",
	".nav", ".navigation", ".sidebar", ".menu",
	".advertisement", ".ads", ".social", ".share", ".comments",
}

var contentSelectors = []string{
	"article", "main", ".content", ".post", ".entry", "section",
	".article-content", ".post-content", ".entry-content",
	".page-content", ".text-content",
}

var boilerplateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)cookie\s+policy`),
	regexp.MustCompile(`(?i)privacy\s+policy`),
	regexp.MustCompile(`(?i)terms\s+of\s+service`),
	regexp.MustCompile(`(?i)subscribe\s+to\s+our\s+newsletter`),
	regexp.MustCompile(`(?i)follow\s+us\s+on`),
	regexp.MustCompile(`(?i)share\s+this\s+article`),
}

const (
	minSectionChars = 200
	minPageChars    = 100
	minLineChars    = 20
)

// ReadPage reduces an HTML document to its title and main content rendered
// as markdown. Navigation chrome is stripped first; the best content
// container wins, falling back to body.
func ReadPage(r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	return ReducePage(doc)
}

// ReducePage is ReadPage over an already-parsed document. It mutates doc;
// callers needing links must collect them first.
func ReducePage(doc *goquery.Document) (Page, error) {
	doc.Find(strings.Join(removeSelectors, ", ")).Remove()

	title := pageTitle(doc)

	sel := doc.Find("body")
	for _, s := range contentSelectors {
		found := doc.Find(s)
		if found.Length() == 0 {
			continue
		}
		if len(strings.TrimSpace(found.Text())) > minSectionChars {
			sel = found
			break
		}
	}

	var frag strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		h, herr := goquery.OuterHtml(s)
		if herr != nil {
			return
		}
		frag.WriteString(h)
		frag.WriteByte('\n')
	})

	conv := md.NewConverter("", true, nil)
	markdown, err := conv.ConvertString(frag.String())
	if err != nil {
		return Page{Title: title}, fmt.Errorf("markdown convert: %w", err)
	}

	content := cleanPageContent(markdown)
	if len(content) < minPageChars {
		return Page{Title: title}, ErrInsufficientContent
	}
	return Page{Title: title, Content: content}, nil
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if h := strings.TrimSpace(doc.Find("h1").First().Text()); h != "" {
		return h
	}
	return "Untitled"
}

// cleanPageContent strips boilerplate phrases and drops short filler lines.
// Markdown headings survive regardless of length so document structure stays
// visible to the chunker.
func cleanPageContent(markdown string) string {
	for _, re := range boilerplateRes {
		markdown = re.ReplaceAllString(markdown, "")
	}

	var kept []string
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > minLineChars || strings.HasPrefix(trimmed, "#") {
			kept = append(kept, line)
		}
	}

	return text.CollapseWhitespace(strings.Join(kept, "\n"))
}
