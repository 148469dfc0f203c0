package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Kind tells how a selector expression is evaluated.
type Kind int

const (
	KindCSS Kind = iota
	KindXPath
)

func (k Kind) String() string {
	if k == KindXPath {
		return "xpath"
	}
	return "css"
}

// Selector is a parsed selector expression.
type Selector struct {
	Kind Kind
	Expr string
}

// ParseSelector classifies raw as CSS or XPath. Expressions starting with
// "/", "(" or "./", or prefixed with "xpath:", are XPath.
func ParseSelector(raw string) Selector {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "xpath:"); ok {
		return Selector{Kind: KindXPath, Expr: strings.TrimSpace(rest)}
	}
	if rest, ok := strings.CutPrefix(raw, "css:"); ok {
		return Selector{Kind: KindCSS, Expr: strings.TrimSpace(rest)}
	}
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "(") || strings.HasPrefix(raw, "./") {
		return Selector{Kind: KindXPath, Expr: raw}
	}
	return Selector{Kind: KindCSS, Expr: raw}
}

func (s Selector) String() string {
	return s.Kind.String() + ":" + s.Expr
}

// ValidateSelector reports whether raw compiles.
func ValidateSelector(raw string) error {
	s := ParseSelector(raw)
	if s.Expr == "" {
		return fmt.Errorf("empty selector")
	}
	if s.Kind == KindXPath {
		return validateXPath(s.Expr)
	}
	return validateCSS(s.Expr)
}

// QueryAll returns every node under root matching the selector, in
// document order.
func (s Selector) QueryAll(root *html.Node) ([]*html.Node, error) {
	if s.Kind == KindXPath {
		return queryXPath(root, s.Expr)
	}
	return queryCSS(root, s.Expr)
}

// Query returns the first matching node, or nil when nothing matches.
func (s Selector) Query(root *html.Node) (*html.Node, error) {
	nodes, err := s.QueryAll(root)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// ParseHTML parses an HTML document.
func ParseHTML(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
