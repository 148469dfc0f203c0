package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/IshaanNene/boardscrape/internal/browser"
	"github.com/IshaanNene/boardscrape/internal/types"
)

// sessionHolder owns one worker's browser session and replaces it after a
// session failure. gen changes every time the session is replaced so callers
// can tell their page state was lost.
type sessionHolder struct {
	factory  browser.Factory
	sess     browser.Session
	gen      int
	restarts *atomic.Int64
	logger   *slog.Logger
}

func newSessionHolder(factory browser.Factory, restarts *atomic.Int64, logger *slog.Logger) *sessionHolder {
	return &sessionHolder{factory: factory, restarts: restarts, logger: logger}
}

// get returns the live session, opening one if needed. Open failures are
// session failures so the retry policy tries again.
func (h *sessionHolder) get(ctx context.Context) (browser.Session, error) {
	if h.sess != nil {
		return h.sess, nil
	}
	s, err := h.factory.NewSession(ctx)
	if err != nil {
		if types.IsSessionFailure(err) {
			return nil, err
		}
		return nil, &types.SessionError{Op: "open", Err: err}
	}
	h.sess = s
	h.gen++
	return s, nil
}

// onFailure drops the session when err is a session failure.
func (h *sessionHolder) onFailure(err error) {
	if !types.IsSessionFailure(err) || h.sess == nil {
		return
	}
	h.logger.Warn("session failed, recreating", "error", err)
	h.sess.Close()
	h.sess = nil
	h.restarts.Add(1)
}

func (h *sessionHolder) close() {
	if h.sess != nil {
		h.sess.Close()
		h.sess = nil
	}
}
