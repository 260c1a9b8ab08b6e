package extract

import (
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// ImageLink is one inline markdown image discovered in text.
type ImageLink struct {
	URL string
	Alt string
}

// MarkdownImages scans text for inline markdown image links and returns
// them in document order. Only http(s) destinations are kept. The scan is
// greedy and non-exclusive; duplicate links collapse downstream via the
// candidate identity key.
func MarkdownImages(text string) []ImageLink {
	if !strings.Contains(text, "![") {
		return nil
	}

	// Parser instances are single-use.
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse([]byte(text))

	var links []ImageLink
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		img, ok := node.(*ast.Image)
		if !ok || !entering {
			return ast.GoToNext
		}
		dest := string(img.Destination)
		if strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") {
			links = append(links, ImageLink{URL: dest, Alt: altText(img)})
		}
		return ast.SkipChildren
	})
	return links
}

// altText flattens an image node's children into its alt string.
func altText(img *ast.Image) string {
	var b strings.Builder
	ast.WalkFunc(img, func(node ast.Node, entering bool) ast.WalkStatus {
		if txt, ok := node.(*ast.Text); ok && entering {
			b.Write(txt.Literal)
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(b.String())
}
