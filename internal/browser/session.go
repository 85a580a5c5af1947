package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Session is a Page backed by one chromedp target.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	filter *RequestFilter

	onClose   func()
	closeOnce sync.Once
	closeErr  error
}

var _ Page = (*Session)(nil)

func (s *Session) ID() string { return s.id }

// run executes actions on the session target, canceled by either the session
// or ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate issues Page.navigate directly rather than chromedp.Navigate, which
// waits for the load event. A feed page keeps loading long after the
// document is usable.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("navigation to %s failed: %s", url, res.ErrorText)
		}
		return nil
	}))
}

func (s *Session) WaitReady(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (s *Session) OuterHTMLAll(ctx context.Context, selector string) ([]string, error) {
	quoted, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s), el => el.outerHTML)`, quoted)
	if err := s.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.run(ctx, chromedp.Evaluate(script, res))
}

func (s *Session) ScrollBy(ctx context.Context, dy int) error {
	return s.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", dy), nil))
}

// Close shuts the browser down gracefully, falling back to a hard cancel
// when ctx expires first.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()

		select {
		case s.closeErr = <-done:
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("graceful browser close timed out: %w", ctx.Err())
		}
		s.cancel()

		blocked := int64(0)
		if s.filter != nil {
			blocked = s.filter.Blocked()
		}
		s.logger.Debug("Browser session closed.", zap.Int64("requests_blocked", blocked), zap.Error(s.closeErr))
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

// cookies installs the two session cookies, or returns nil when either is
// missing.
func (m *Manager) cookies() chromedp.Action {
	if m.auth.AuthToken == "" || m.auth.CSRFToken == "" {
		return nil
	}
	domain := m.auth.CookieDomain
	if domain == "" {
		domain = ".x.com"
	}
	param := func(name, value string, httpOnly bool) *network.CookieParam {
		return &network.CookieParam{
			Name:     name,
			Value:    value,
			Domain:   domain,
			Path:     "/",
			Secure:   true,
			HTTPOnly: httpOnly,
			SameSite: network.CookieSameSiteLax,
		}
	}
	return network.SetCookies([]*network.CookieParam{
		param("auth_token", m.auth.AuthToken, true),
		param("ct0", m.auth.CSRFToken, false),
	})
}
