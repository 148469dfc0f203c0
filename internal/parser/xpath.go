package parser

import (
	"fmt"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var emptyDoc = &html.Node{Type: html.DocumentNode}

func validateXPath(expr string) error {
	if _, err := htmlquery.QueryAll(emptyDoc, expr); err != nil {
		return fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return nil
}

// queryXPath evaluates expr with root as both the context node and the
// navigator root, so even //span stays inside root's subtree.
func queryXPath(root *html.Node, expr string) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return nodes, nil
}

// InnerText returns the text of n the way XPath string() sees it.
func InnerText(n *html.Node) string {
	return htmlquery.InnerText(n)
}
