// Package acquire loads a profile feed in a browser session and samples the
// rendered feed items over a few scroll passes.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/browser"
	"github.com/xkilldash9x/tweetgrab/internal/extract"
	"github.com/xkilldash9x/tweetgrab/internal/post"
)

var (
	// ErrNavigation means the profile page could not be loaded in time.
	ErrNavigation = errors.New("navigation failed")
	// ErrNotReady means the page loaded but no feed item appeared in time,
	// typically a login wall or a slow first render.
	ErrNotReady = errors.New("feed not ready")
	// ErrInvalidTarget means the handle cannot name a profile.
	ErrInvalidTarget = errors.New("invalid profile handle")
)

// IsRetryable reports whether a fresh session might succeed where this one
// failed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNavigation) || errors.Is(err, ErrNotReady)
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// Config tunes acquisition.
type Config struct {
	BaseURL           string
	ItemSelector      string
	NavigationTimeout time.Duration
	ReadinessTimeout  time.Duration
	Passes            int
	ScrollOffset      int
	PassPause         time.Duration
	MaxTextDepth      int
}

// Acquirer collects snapshots from a profile feed.
type Acquirer struct {
	cfg       Config
	extractor *extract.Extractor
	logger    *zap.Logger
}

// New creates an Acquirer.
func New(cfg Config, logger *zap.Logger) *Acquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Passes < 1 {
		cfg.Passes = 1
	}
	if cfg.ItemSelector == "" {
		cfg.ItemSelector = "article"
	}
	return &Acquirer{
		cfg:       cfg,
		extractor: extract.New(logger, cfg.MaxTextDepth),
		logger:    logger.Named("acquire"),
	}
}

// ProfileURL builds the feed URL for a handle. A leading "@" is accepted.
func (a *Acquirer) ProfileURL(target string) (string, error) {
	handle := strings.TrimPrefix(strings.TrimSpace(target), "@")
	if !handlePattern.MatchString(handle) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	base, err := url.Parse(a.cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", a.cfg.BaseURL)
	}
	return base.JoinPath(handle).String(), nil
}

// Collect navigates page to the target's feed and returns every snapshot
// observed across the sampling passes, in observation order. Duplicates are
// expected; consolidation happens later.
//
// Passes run strictly one after another: sample, scroll, pause.
func (a *Acquirer) Collect(ctx context.Context, page browser.Page, target string) ([]post.Snapshot, error) {
	profileURL, err := a.ProfileURL(target)
	if err != nil {
		return nil, err
	}
	logger := a.logger.With(zap.String("session_id", page.ID()), zap.String("url", profileURL))

	if err := a.navigate(ctx, page, profileURL); err != nil {
		return nil, err
	}
	if err := a.waitReady(ctx, page); err != nil {
		return nil, err
	}

	var snaps []post.Snapshot
	for pass := 1; pass <= a.cfg.Passes; pass++ {
		items, err := page.OuterHTMLAll(ctx, a.cfg.ItemSelector)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to sample feed on pass %d: %w", pass, err)
		}

		kept := 0
		for _, markup := range items {
			s, err := a.extractor.Article(markup)
			if err != nil {
				logger.Debug("Skipping feed item.", zap.Int("pass", pass), zap.Error(err))
				continue
			}
			snaps = append(snaps, s)
			kept++
		}
		logger.Debug("Sampling pass complete.",
			zap.Int("pass", pass), zap.Int("items", len(items)), zap.Int("kept", kept))

		if err := page.ScrollBy(ctx, a.cfg.ScrollOffset); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to scroll on pass %d: %w", pass, err)
		}
		if err := sleep(ctx, a.cfg.PassPause); err != nil {
			return nil, err
		}
	}

	logger.Info("Feed sampled.", zap.Int("passes", a.cfg.Passes), zap.Int("snapshots", len(snaps)))
	return snaps, nil
}

func (a *Acquirer) navigate(ctx context.Context, page browser.Page, profileURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, a.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Navigate(navCtx, profileURL); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	return nil
}

func (a *Acquirer) waitReady(ctx context.Context, page browser.Page) error {
	readyCtx, cancel := context.WithTimeout(ctx, a.cfg.ReadinessTimeout)
	defer cancel()

	if err := page.WaitReady(readyCtx, a.cfg.ItemSelector); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no %q within %s: %v", ErrNotReady, a.cfg.ItemSelector, a.cfg.ReadinessTimeout, err)
	}
	return nil
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
