package browser

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// blockableTypes are the resource types a filter may fail. Documents and
// scripts are needed to render the feed, and images carry the media URLs.
var blockableTypes = map[string]network.ResourceType{
	"font":       network.ResourceTypeFont,
	"stylesheet": network.ResourceTypeStylesheet,
	"media":      network.ResourceTypeMedia,
	"texttrack":  network.ResourceTypeTextTrack,
	"manifest":   network.ResourceTypeManifest,
	"ping":       network.ResourceTypePing,
	"websocket":  network.ResourceTypeWebSocket,
}

// RequestFilter fails requests for selected resource types before they reach
// the network.
type RequestFilter struct {
	blocked map[network.ResourceType]struct{}
	logger  *zap.Logger
	count   atomic.Int64
}

// NewRequestFilter validates the configured type names (case-insensitive).
func NewRequestFilter(types []string, logger *zap.Logger) (*RequestFilter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &RequestFilter{
		blocked: make(map[network.ResourceType]struct{}, len(types)),
		logger:  logger.Named("request_filter"),
	}
	for _, name := range types {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "image" {
			return nil, fmt.Errorf("resource type %q cannot be blocked", name)
		}
		rt, ok := blockableTypes[key]
		if !ok {
			return nil, fmt.Errorf("unknown or unblockable resource type %q", name)
		}
		f.blocked[rt] = struct{}{}
	}
	return f, nil
}

// Blocks reports whether requests of type rt are failed.
func (f *RequestFilter) Blocks(rt network.ResourceType) bool {
	_, ok := f.blocked[rt]
	return ok
}

// Blocked returns how many requests have been failed so far.
func (f *RequestFilter) Blocked() int64 {
	return f.count.Load()
}

// Patterns returns one request-stage pattern per blocked type, so only those
// requests are ever paused.
func (f *RequestFilter) Patterns() []*fetch.RequestPattern {
	patterns := make([]*fetch.RequestPattern, 0, len(f.blocked))
	for rt := range f.blocked {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
			RequestStage: fetch.RequestStageRequest,
		})
	}
	return patterns
}

// Install enables interception on the target held by sessionCtx. It must run
// after the target exists.
func (f *RequestFilter) Install(sessionCtx context.Context) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(f.blocked) == 0 {
			return nil
		}
		chromedp.ListenTarget(sessionCtx, func(ev interface{}) {
			if e, ok := ev.(*fetch.EventRequestPaused); ok {
				// Listener callbacks must not block the event loop.
				go f.resolve(sessionCtx, e)
			}
		})
		if err := fetch.Enable().WithPatterns(f.Patterns()).Do(ctx); err != nil {
			return fmt.Errorf("failed to enable request interception: %w", err)
		}
		return nil
	})
}

func (f *RequestFilter) resolve(sessionCtx context.Context, e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(sessionCtx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(sessionCtx, c.Target)

	var err error
	if f.Blocks(e.ResourceType) {
		f.count.Add(1)
		err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(e.RequestID).Do(execCtx)
	}
	if err != nil && sessionCtx.Err() == nil {
		f.logger.Debug("Failed to resolve paused request.",
			zap.String("type", string(e.ResourceType)), zap.Error(err))
	}
}
