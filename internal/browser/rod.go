package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/fetcher"
	"github.com/IshaanNene/boardscrape/internal/parser"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// RodFactory launches one headless Chromium per session.
type RodFactory struct {
	cfg       *config.BrowserConfig
	proxyMgr  *fetcher.ProxyManager
	cookies   []*http.Cookie
	cookieURL string
	logger    *slog.Logger
}

// NewRodFactory creates a RodFactory. Cookies are installed for cookieURL
// on every new page.
func NewRodFactory(cfg *config.Config, cookies []*http.Cookie, cookieURL string, logger *slog.Logger) *RodFactory {
	rf := &RodFactory{
		cfg:       &cfg.Browser,
		cookies:   cookies,
		cookieURL: cookieURL,
		logger:    logger.With("component", "rod_session"),
	}
	if cfg.Proxy.Enabled && len(cfg.Proxy.URLs) > 0 {
		rf.proxyMgr = fetcher.NewProxyManager(&cfg.Proxy, logger)
	}
	return rf
}

// NewSession implements Factory.
func (rf *RodFactory) NewSession(ctx context.Context) (Session, error) {
	sc := fetcher.NewStealthConfig(rf.cfg)

	l := launcher.New().
		Context(ctx).
		Headless(rf.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", sc.WindowSize())
	if rf.cfg.BinPath != "" {
		l = l.Bin(rf.cfg.BinPath)
	}
	if sc.UserDataDir != "" {
		l = l.UserDataDir(sc.UserDataDir)
	}
	if rf.proxyMgr != nil {
		if p := rf.proxyMgr.Next(); p != nil {
			l = l.Proxy(p.String())
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &types.SessionError{Op: "launch", Err: err}
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, &types.SessionError{Op: "connect", Err: err}
	}

	s := &RodSession{
		browser:     b,
		launcher:    l,
		keepData:    sc.UserDataDir != "",
		navTimeout:  rf.cfg.NavigationTimeout,
		waitTimeout: rf.cfg.WaitTimeout,
		logger:      rf.logger,
	}
	if err := rf.preparePage(s, sc); err != nil {
		s.Close()
		return nil, &types.SessionError{Op: "open page", Err: err}
	}

	rf.logger.Debug("browser session ready", "stealth", rf.cfg.Stealth, "headless", rf.cfg.Headless)
	return s, nil
}

func (rf *RodFactory) preparePage(s *RodSession, sc *fetcher.StealthConfig) error {
	var err error
	if rf.cfg.Stealth {
		s.page, err = stealth.Page(s.browser)
		if err == nil {
			_, err = s.page.EvalOnNewDocument(sc.StealthJS())
		}
	} else {
		s.page, err = s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return err
	}

	if len(rf.cfg.UserAgents) > 0 {
		ua := rf.cfg.UserAgents[rand.Intn(len(rf.cfg.UserAgents))]
		if err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			rf.logger.Warn("failed to set user agent", "error", err)
		}
	}

	if len(rf.cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, len(rf.cookies))
		for i, c := range rf.cookies {
			params[i] = &proto.NetworkCookieParam{Name: c.Name, Value: c.Value, URL: rf.cookieURL}
		}
		if err := s.page.SetCookies(params); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}
	return nil
}

// Close implements Factory. Sessions close their own browsers.
func (rf *RodFactory) Close() error { return nil }

// RodSession is a Session backed by a Chromium page.
type RodSession struct {
	browser     *rod.Browser
	page        *rod.Page
	launcher    *launcher.Launcher
	keepData    bool
	navTimeout  time.Duration
	waitTimeout time.Duration
	url         string
	logger      *slog.Logger
}

// Navigate implements Session.
func (s *RodSession) Navigate(ctx context.Context, rawURL string) error {
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Navigate(rawURL); err != nil {
		return navigationError(ctx, rawURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return navigationError(ctx, rawURL, err)
	}
	s.url = rawURL
	if info, err := s.page.Info(); err == nil && info.URL != "" {
		s.url = info.URL
	}
	return nil
}

// CurrentURL implements Session.
func (s *RodSession) CurrentURL() string { return s.url }

// ScrollToBottom implements Session.
func (s *RodSession) ScrollToBottom(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return classify(ctx, "scroll", err)
}

// DocumentExtent implements Session.
func (s *RodSession) DocumentExtent(ctx context.Context) (int, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, classify(ctx, "measure", err)
	}
	return res.Value.Int(), nil
}

// Find implements Session.
func (s *RodSession) Find(ctx context.Context, selector string) (Element, error) {
	p := s.page.Context(ctx)
	sel := parser.ParseSelector(selector)

	var (
		has bool
		el  *rod.Element
		err error
	)
	if sel.Kind == parser.KindXPath {
		has, el, err = p.HasX(sel.Expr)
	} else {
		has, el, err = p.Has(sel.Expr)
	}
	if err != nil {
		return nil, classify(ctx, "find", err)
	}
	if !has {
		return nil, types.ErrNotFound
	}
	return &rodElement{el: el}, nil
}

// FindAll implements Session.
func (s *RodSession) FindAll(ctx context.Context, selector string) ([]Element, error) {
	p := s.page.Context(ctx)
	sel := parser.ParseSelector(selector)

	var (
		els rod.Elements
		err error
	)
	if sel.Kind == parser.KindXPath {
		els, err = p.ElementsX(sel.Expr)
	} else {
		els, err = p.Elements(sel.Expr)
	}
	if err != nil {
		return nil, classify(ctx, "find all", err)
	}
	return wrapElements(els), nil
}

// WaitFor implements Session.
func (s *RodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	p := s.page.Context(ctx).Timeout(timeout)
	sel := parser.ParseSelector(selector)

	var (
		el  *rod.Element
		err error
	)
	if sel.Kind == parser.KindXPath {
		el, err = p.ElementX(sel.Expr)
	} else {
		el, err = p.Element(sel.Expr)
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, types.ErrTimeout
		}
		return nil, classify(ctx, "wait", err)
	}
	return &rodElement{el: el.CancelTimeout()}, nil
}

// Click implements Session.
func (s *RodSession) Click(ctx context.Context, el Element) error {
	re, ok := el.(*rodElement)
	if !ok {
		return fmt.Errorf("click: foreign element %T", el)
	}
	// rod retries a covered or hidden element until its context ends.
	err := re.el.Context(ctx).Timeout(s.waitTimeout).Click(proto.InputMouseButtonLeft, 1)
	return classify(ctx, "click", err)
}

// Close implements Session.
func (s *RodSession) Close() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.launcher != nil {
		if s.keepData {
			s.launcher.Kill()
		} else {
			s.launcher.Cleanup()
		}
	}
	return errors.Join(errs...)
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Text() (string, error) {
	t, err := e.el.Text()
	if err != nil {
		return "", classify(context.Background(), "text", err)
	}
	return strings.TrimSpace(t), nil
}

func (e *rodElement) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, classify(context.Background(), "attribute", err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Find(selector string) (Element, error) {
	sel := parser.ParseSelector(selector)
	var (
		has bool
		el  *rod.Element
		err error
	)
	if sel.Kind == parser.KindXPath {
		has, el, err = e.el.HasX(sel.Expr)
	} else {
		has, el, err = e.el.Has(sel.Expr)
	}
	if err != nil {
		return nil, classify(context.Background(), "find", err)
	}
	if !has {
		return nil, types.ErrNotFound
	}
	return &rodElement{el: el}, nil
}

func (e *rodElement) FindAll(selector string) ([]Element, error) {
	sel := parser.ParseSelector(selector)
	var (
		els rod.Elements
		err error
	)
	if sel.Kind == parser.KindXPath {
		els, err = e.el.ElementsX(sel.Expr)
	} else {
		els, err = e.el.Elements(sel.Expr)
	}
	if err != nil {
		return nil, classify(context.Background(), "find all", err)
	}
	return wrapElements(els), nil
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out
}

func navigationError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) || errors.Is(err, context.DeadlineExceeded) {
		return &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}
	return &types.SessionError{Op: "navigate", Err: err}
}

// classify separates element-level problems, which callers treat as a miss
// or a failed interaction, from a broken browser connection.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, types.ErrTimeout)
	}

	var (
		notFound    *rod.ElementNotFoundError
		objNotFound *rod.ObjectNotFoundError
		evalErr     *rod.EvalError
		notInteract *rod.NotInteractableError
		covered     *rod.CoveredError
		invisible   *rod.InvisibleShapeError
	)
	switch {
	case errors.As(err, &notFound):
		return types.ErrNotFound
	case errors.As(err, &objNotFound):
		return fmt.Errorf("%s: element detached: %w", op, types.ErrNotFound)
	case errors.As(err, &evalErr),
		errors.As(err, &notInteract),
		errors.As(err, &covered),
		errors.As(err, &invisible):
		return fmt.Errorf("%s: %w", op, err)
	}
	return &types.SessionError{Op: op, Err: err}
}
