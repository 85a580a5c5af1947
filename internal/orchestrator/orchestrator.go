// Package orchestrator runs one capture under a hard wall-clock deadline:
// bounded attempts, each in a fresh browser session, then the media stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/acquire"
	"github.com/xkilldash9x/tweetgrab/internal/browser"
	"github.com/xkilldash9x/tweetgrab/internal/post"
)

// Collector samples the feed of target on an open page.
type Collector interface {
	Collect(ctx context.Context, page browser.Page, target string) ([]post.Snapshot, error)
}

// MediaStage downloads the photos of the chosen post.
type MediaStage interface {
	DownloadAll(ctx context.Context, p post.Snapshot) ([]post.DownloadOutcome, error)
}

// Config bounds a run.
type Config struct {
	// Deadline is the hard cap on the whole run, media included.
	Deadline time.Duration
	// MaxAttempts counts acquisition attempts, the first one included.
	MaxAttempts int
	// RetryDelay is the initial pause between attempts.
	RetryDelay time.Duration
	// CleanupGrace bounds how long session release may take, both inside an
	// attempt and after the deadline fires.
	CleanupGrace time.Duration
}

// Report is everything a run produced. Result is always set.
type Report struct {
	ID        string
	Target    string
	Result    post.Result
	Downloads []post.DownloadOutcome
	Attempts  int
	Elapsed   time.Duration
}

// errTerminal stops the retry loop; the real cause is kept aside.
var errTerminal = errors.New("terminal attempt failure")

// Orchestrator wires the stages together.
type Orchestrator struct {
	cfg       Config
	launcher  browser.Launcher
	collector Collector
	media     MediaStage
	logger    *zap.Logger
}

// New creates an Orchestrator. media may be nil to skip downloads.
func New(cfg Config, launcher browser.Launcher, collector Collector, media MediaStage, logger *zap.Logger) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		launcher:  launcher,
		collector: collector,
		media:     media,
		logger:    logger.Named("orchestrator"),
	}
}

// Run captures the latest post of target. It returns within Deadline plus
// CleanupGrace and always yields exactly one result.
func (o *Orchestrator) Run(ctx context.Context, target string) Report {
	start := time.Now()
	id := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", id), zap.String("target", target))
	logger.Info("Run started.", zap.Duration("deadline", o.cfg.Deadline), zap.Int("max_attempts", o.cfg.MaxAttempts))

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	done := make(chan Report, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Pipeline panicked.", zap.Any("panic", r), zap.Stack("stack"))
				done <- Report{Result: post.Failuref("internal error: %v", r)}
			}
		}()
		done <- o.pipeline(runCtx, logger, target)
	}()

	var rep Report
	select {
	case rep = <-done:
		// Finishing late still loses to the deadline.
		if runCtx.Err() != nil {
			rep.Result = o.interrupted(ctx)
		}
	case <-runCtx.Done():
		cancel()
		logger.Warn("Run interrupted; waiting for cleanup.", zap.Error(runCtx.Err()), zap.Duration("grace", o.cfg.CleanupGrace))
		if late, ok := o.awaitCleanup(done); ok {
			rep.Attempts = late.Attempts
		} else {
			logger.Warn("Pipeline did not release its resources within the grace period.")
		}
		rep.Result = o.interrupted(ctx)
	}

	rep.ID = id
	rep.Target = target
	rep.Elapsed = time.Since(start)

	if rep.Result.OK() {
		logger.Info("Run succeeded.", zap.Int("attempts", rep.Attempts), zap.Duration("elapsed", rep.Elapsed))
	} else {
		logger.Warn("Run failed.", zap.String("error", rep.Result.Err.Message), zap.Int("attempts", rep.Attempts), zap.Duration("elapsed", rep.Elapsed))
	}
	return rep
}

func (o *Orchestrator) interrupted(parent context.Context) post.Result {
	if err := parent.Err(); err != nil {
		return post.Failuref("run cancelled: %v", err)
	}
	return post.Failuref("%s (%s)", post.MsgDeadline, o.cfg.Deadline)
}

func (o *Orchestrator) awaitCleanup(done <-chan Report) (Report, bool) {
	t := time.NewTimer(o.cfg.CleanupGrace)
	defer t.Stop()
	select {
	case rep := <-done:
		return rep, true
	case <-t.C:
		return Report{}, false
	}
}

// pipeline runs the attempts and, on success, the media stage.
func (o *Orchestrator) pipeline(ctx context.Context, logger *zap.Logger, target string) Report {
	var (
		rep      Report
		snap     post.Snapshot
		found    bool
		cause    error
		maxDelay = o.cfg.RetryDelay * 4
	)

	retrier := repeater.NewBackoff(o.cfg.MaxAttempts, o.cfg.RetryDelay, repeater.WithMaxDelay(maxDelay))
	err := retrier.Do(ctx, func() error {
		rep.Attempts++
		s, ok, err := o.attempt(ctx, logger.With(zap.Int("attempt", rep.Attempts)), target)
		switch {
		case err == nil:
			snap, found, cause = s, ok, nil
			return nil
		case ctx.Err() != nil:
			cause = ctx.Err()
			return errTerminal
		case acquire.IsRetryable(err):
			cause = err
			logger.Warn("Attempt failed; retrying in a fresh session.", zap.Int("attempt", rep.Attempts), zap.Error(err))
			return err
		default:
			cause = err
			return errTerminal
		}
	}, errTerminal)

	if err != nil {
		if cause == nil {
			cause = err
		}
		rep.Result = post.Failure(cause.Error())
		return rep
	}
	if !found {
		rep.Result = post.Failure(post.MsgNoData)
		return rep
	}

	rep.Result = post.Success(snap)
	logger.Info("Latest post selected.", zap.String("time", snap.RawTime), zap.Int("photos", len(snap.Photos())), zap.Bool("has_video", snap.HasVideo))

	// Downloads never change the result.
	if o.media != nil {
		downloads, err := o.media.DownloadAll(ctx, snap)
		if err != nil {
			logger.Warn("Media stage incomplete.", zap.Error(err))
		}
		rep.Downloads = downloads
	}
	return rep
}

// attempt opens one session, samples the feed and consolidates. The session
// is released on every path, including panics and cancellation.
func (o *Orchestrator) attempt(ctx context.Context, logger *zap.Logger, target string) (post.Snapshot, bool, error) {
	page, err := o.launcher.NewSession(ctx)
	if err != nil {
		return post.Snapshot{}, false, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), o.cfg.CleanupGrace)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			logger.Warn("Browser session did not close cleanly.", zap.String("session_id", page.ID()), zap.Error(err))
		}
	}()

	snaps, err := o.collector.Collect(ctx, page, target)
	if err != nil {
		return post.Snapshot{}, false, err
	}
	best, ok := post.Consolidate(snaps)
	logger.Debug("Snapshots consolidated.", zap.Int("observed", len(snaps)), zap.Bool("found", ok))
	return best, ok, nil
}
