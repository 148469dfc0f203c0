package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/IshaanNene/boardscrape/internal/fetcher"
	"github.com/IshaanNene/boardscrape/internal/parser"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// StaticFactory opens sessions that read server-rendered HTML without
// running scripts.
type StaticFactory struct {
	fetcher fetcher.Fetcher
	logger  *slog.Logger
}

// NewStaticFactory creates a StaticFactory. All sessions share f.
func NewStaticFactory(f fetcher.Fetcher, logger *slog.Logger) *StaticFactory {
	return &StaticFactory{fetcher: f, logger: logger.With("component", "static_session")}
}

// NewSession implements Factory.
func (sf *StaticFactory) NewSession(_ context.Context) (Session, error) {
	return &StaticSession{fetcher: sf.fetcher, logger: sf.logger}, nil
}

// Close implements Factory.
func (sf *StaticFactory) Close() error {
	return sf.fetcher.Close()
}

// StaticSession is a Session over fetched HTML. Scrolling is a no-op and
// only links can be clicked.
type StaticSession struct {
	fetcher fetcher.Fetcher
	logger  *slog.Logger
	url     string
	size    int
	doc     *html.Node
}

// Navigate implements Session.
func (s *StaticSession) Navigate(ctx context.Context, rawURL string) error {
	page, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	doc, err := parser.ParseHTML(bytes.NewReader(page.Body))
	if err != nil {
		return &types.FetchError{URL: rawURL, Err: err}
	}
	s.url = page.FinalURL
	s.size = len(page.Body)
	s.doc = doc
	return nil
}

// CurrentURL implements Session.
func (s *StaticSession) CurrentURL() string { return s.url }

// ScrollToBottom implements Session. A static document never grows.
func (s *StaticSession) ScrollToBottom(context.Context) error { return nil }

// DocumentExtent implements Session using the document size in bytes.
func (s *StaticSession) DocumentExtent(context.Context) (int, error) { return s.size, nil }

// Find implements Session.
func (s *StaticSession) Find(_ context.Context, selector string) (Element, error) {
	if s.doc == nil {
		return nil, types.ErrNotFound
	}
	return findNode(s.doc, selector)
}

// FindAll implements Session.
func (s *StaticSession) FindAll(_ context.Context, selector string) ([]Element, error) {
	if s.doc == nil {
		return nil, nil
	}
	return findNodes(s.doc, selector)
}

// WaitFor implements Session. The document is complete once loaded, so a
// missing element is reported as a timeout straight away.
func (s *StaticSession) WaitFor(ctx context.Context, selector string, _ time.Duration) (Element, error) {
	el, err := s.Find(ctx, selector)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ErrTimeout
	}
	return el, err
}

// Click implements Session by following the href of a link.
func (s *StaticSession) Click(ctx context.Context, el Element) error {
	ne, ok := el.(*nodeElement)
	if !ok {
		return fmt.Errorf("click: foreign element %T", el)
	}
	if ne.node.Data != "a" {
		return fmt.Errorf("click <%s>: %w", ne.node.Data, types.ErrUnsupported)
	}
	href, ok := parser.Attr(ne.node, "href")
	if !ok || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return fmt.Errorf("click link without target: %w", types.ErrUnsupported)
	}
	return s.Navigate(ctx, types.ResolveURL(s.url, href))
}

// Close implements Session.
func (s *StaticSession) Close() error {
	s.doc = nil
	return nil
}

// nodeElement is an Element backed by a parsed HTML node.
type nodeElement struct {
	node *html.Node
}

func (e *nodeElement) Text() (string, error) {
	return parser.Text(e.node), nil
}

func (e *nodeElement) Attr(name string) (string, bool, error) {
	v, ok := parser.Attr(e.node, name)
	return v, ok, nil
}

func (e *nodeElement) Find(selector string) (Element, error) {
	return findNode(e.node, selector)
}

func (e *nodeElement) FindAll(selector string) ([]Element, error) {
	return findNodes(e.node, selector)
}

func findNode(root *html.Node, selector string) (Element, error) {
	n, err := parser.ParseSelector(selector).Query(root)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, types.ErrNotFound
	}
	return &nodeElement{node: n}, nil
}

func findNodes(root *html.Node, selector string) ([]Element, error) {
	nodes, err := parser.ParseSelector(selector).QueryAll(root)
	if err != nil {
		return nil, err
	}
	els := make([]Element, len(nodes))
	for i, n := range nodes {
		els[i] = &nodeElement{node: n}
	}
	return els, nil
}
