package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

func validateCSS(expr string) error {
	if _, err := cascadia.Compile(expr); err != nil {
		return fmt.Errorf("invalid css selector %q: %w", expr, err)
	}
	return nil
}

// queryCSS matches descendants of root only, so element-scoped lookups never
// return the element itself.
func queryCSS(root *html.Node, expr string) ([]*html.Node, error) {
	if err := validateCSS(expr); err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(root).Find(expr).Nodes, nil
}

// Text returns the trimmed text content of n.
func Text(n *html.Node) string {
	return strings.TrimSpace(goquery.NewDocumentFromNode(n).Text())
}

// Attr returns the value of the named attribute and whether it exists.
func Attr(n *html.Node, name string) (string, bool) {
	return goquery.NewDocumentFromNode(n).Attr(name)
}

// HasClass reports whether n carries the given class token.
func HasClass(n *html.Node, class string) bool {
	return goquery.NewDocumentFromNode(n).HasClass(class)
}
