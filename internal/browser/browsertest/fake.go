// Package browsertest provides in-memory implementations of browser.Page and
// browser.Launcher for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/tweetgrab/internal/browser"
)

// Page is a scripted browser.Page. Each call to OuterHTMLAll returns the
// next entry of Passes; the last entry repeats once they run out.
type Page struct {
	PageID string

	// Hooks override the default behavior when set.
	NavigateFunc  func(ctx context.Context, url string) error
	WaitReadyFunc func(ctx context.Context, selector string) error

	Passes [][]string

	mu         sync.Mutex
	calls      []string
	sampled    int
	scrolledBy []int
	closed     bool
}

var _ browser.Page = (*Page)(nil)

func (p *Page) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

// Calls returns the ordered list of operations performed on the page.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// ScrolledBy returns the offsets passed to ScrollBy.
func (p *Page) ScrolledBy() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.scrolledBy...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) ID() string {
	if p.PageID == "" {
		return "fake-page"
	}
	return p.PageID
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record("navigate " + url)
	if p.NavigateFunc != nil {
		return p.NavigateFunc(ctx, url)
	}
	return ctx.Err()
}

func (p *Page) WaitReady(ctx context.Context, selector string) error {
	p.record("wait " + selector)
	if p.WaitReadyFunc != nil {
		return p.WaitReadyFunc(ctx, selector)
	}
	return ctx.Err()
}

func (p *Page) OuterHTMLAll(ctx context.Context, selector string) ([]string, error) {
	p.record("sample " + selector)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Passes) == 0 {
		return nil, nil
	}
	i := p.sampled
	if i >= len(p.Passes) {
		i = len(p.Passes) - 1
	}
	p.sampled++
	return append([]string(nil), p.Passes[i]...), nil
}

func (p *Page) Evaluate(ctx context.Context, script string, res interface{}) error {
	p.record("evaluate")
	return ctx.Err()
}

func (p *Page) ScrollBy(ctx context.Context, dy int) error {
	p.record(fmt.Sprintf("scroll %d", dy))
	p.mu.Lock()
	p.scrolledBy = append(p.scrolledBy, dy)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *Page) Close(ctx context.Context) error {
	p.record("close")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Launcher hands out pages built by NewPage and tracks their lifecycle.
type Launcher struct {
	// NewPage builds the page for the n-th session, starting at 1.
	NewPage func(n int) *Page
	// Err, when set, fails every NewSession call.
	Err error

	opened atomic.Int32
	mu     sync.Mutex
	pages  []*Page
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) NewSession(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	if l.NewPage == nil {
		return nil, errors.New("browsertest: NewPage not set")
	}
	n := int(l.opened.Add(1))
	p := l.NewPage(n)
	l.mu.Lock()
	l.pages = append(l.pages, p)
	l.mu.Unlock()
	return p, nil
}

// Opened returns how many sessions were handed out.
func (l *Launcher) Opened() int { return int(l.opened.Load()) }

// Pages returns every page handed out, in order.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// OpenSessions counts pages not yet closed.
func (l *Launcher) OpenSessions() int {
	n := 0
	for _, p := range l.Pages() {
		if !p.Closed() {
			n++
		}
	}
	return n
}

// Article renders minimal feed-item markup.
func Article(datetime, text string, pinned bool, photos ...string) string {
	social := ""
	if pinned {
		social = `<div data-testid="socialContext"><span>Pinned</span></div>`
	}
	media := ""
	for _, src := range photos {
		media += fmt.Sprintf(`<div data-testid="tweetPhoto"><img src="%s"></div>`, html.EscapeString(src))
	}
	return fmt.Sprintf(`<article>%s<a><time datetime="%s">t</time></a><div data-testid="tweetText"><span>%s</span></div>%s</article>`,
		social, datetime, html.EscapeString(text), media)
}
