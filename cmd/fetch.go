package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/acquire"
	"github.com/xkilldash9x/tweetgrab/internal/browser"
	"github.com/xkilldash9x/tweetgrab/internal/config"
	"github.com/xkilldash9x/tweetgrab/internal/media"
	"github.com/xkilldash9x/tweetgrab/internal/network"
	"github.com/xkilldash9x/tweetgrab/internal/observability"
	"github.com/xkilldash9x/tweetgrab/internal/orchestrator"
	"github.com/xkilldash9x/tweetgrab/internal/post"
)

// errResultFailed marks a run whose payload is an error. The payload itself
// has already been written, so it is not logged again.
var errResultFailed = errors.New("capture returned an error payload")

// launcherFactory builds the browser launcher and its shutdown func.
// Replaced in tests.
var launcherFactory = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (browser.Launcher, func(), error) {
	m, err := browser.NewManager(ctx, logger, cfg.Browser, cfg.Auth)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Fetch.CleanupGrace)
		defer cancel()
		_ = m.Shutdown(sctx)
	}
	return m, shutdown, nil
}

func newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch [profile]",
		Short: "Captures the latest non-pinned post of a profile and prints it as JSON",
		Long: `Opens the profile in a headless browser, samples the feed, and prints the
newest non-pinned post as one JSON object on stdout. On failure the object
carries a single "error" field and the exit code is 1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			target := cfg.Fetch.Profile
			if len(args) == 1 {
				target = args[0]
			}
			if target == "" {
				return emit(cmd.OutOrStdout(), cfg, post.Failure("no profile given; pass one as an argument or set fetch.profile"), observability.GetLogger())
			}
			return runFetch(cmd.Context(), cmd.OutOrStdout(), cfg, target, observability.GetLogger())
		},
	}

	fetchCmd.Flags().Duration("deadline", 30*time.Second, "hard limit on the whole run")
	fetchCmd.Flags().Int("attempts", 2, "acquisition attempts, each in a fresh browser")
	fetchCmd.Flags().String("output", "latest_tweet.json", "artifact file receiving a copy of the payload (empty disables)")
	fetchCmd.Flags().String("media-dir", ".", "directory for downloaded photos")
	fetchCmd.Flags().Bool("no-media", false, "skip photo downloads")
	return fetchCmd
}

// runFetch executes one capture and emits exactly one payload to out.
func runFetch(ctx context.Context, out io.Writer, cfg *config.Config, target string, logger *zap.Logger) error {
	launcher, shutdown, err := launcherFactory(ctx, cfg, logger)
	if err != nil {
		return emit(out, cfg, post.Failuref("browser unavailable: %v", err), logger)
	}
	defer shutdown()

	acq := acquire.New(acquire.Config{
		BaseURL:           cfg.Acquire.BaseURL,
		ItemSelector:      cfg.Acquire.ItemSelector,
		NavigationTimeout: cfg.Acquire.NavigationTimeout,
		ReadinessTimeout:  cfg.Acquire.ReadinessTimeout,
		Passes:            cfg.Acquire.Passes,
		ScrollOffset:      cfg.Acquire.ScrollOffset,
		PassPause:         cfg.Acquire.PassPause,
		MaxTextDepth:      cfg.Acquire.MaxTextDepth,
	}, logger)

	var stage orchestrator.MediaStage
	if cfg.Media.Enabled {
		d, err := newDownloader(cfg, logger)
		if err != nil {
			return emit(out, cfg, post.Failuref("media stage unavailable: %v", err), logger)
		}
		stage = d
	}

	o := orchestrator.New(orchestrator.Config{
		Deadline:     cfg.Fetch.Deadline,
		MaxAttempts:  cfg.Fetch.MaxAttempts,
		RetryDelay:   cfg.Fetch.RetryDelay,
		CleanupGrace: cfg.Fetch.CleanupGrace,
	}, launcher, acq, stage, logger)

	rep := o.Run(ctx, target)
	for _, d := range rep.Downloads {
		if d.Success {
			logger.Info("Photo saved.", zap.Int("index", d.Index), zap.String("path", d.Path), observability.Bytes("size", d.StoredSize))
		} else {
			logger.Warn("Photo not saved.", zap.Int("index", d.Index), zap.String("error", d.Error))
		}
	}
	err = emit(out, cfg, rep.Result, logger)
	if errors.Is(err, errResultFailed) && ctx.Err() != nil {
		// Keep the interrupt visible to the caller so it can pick the exit code.
		return fmt.Errorf("%w: %w", err, ctx.Err())
	}
	return err
}

func newDownloader(cfg *config.Config, logger *zap.Logger) (*media.Downloader, error) {
	client := network.NewClient(network.ClientConfig{
		UserAgent:       cfg.Browser.UserAgent,
		Referer:         cfg.Acquire.BaseURL + "/",
		MaxConnsPerHost: cfg.Media.Concurrency,
	})
	return media.NewDownloader(mediaConfig(cfg), client, logger)
}

func mediaConfig(cfg *config.Config) media.Config {
	return media.Config{
		Dir:              cfg.Media.Dir,
		FilePrefix:       cfg.Media.FilePrefix,
		FileExt:          cfg.Media.FileExt,
		ItemTimeout:      cfg.Media.ItemTimeout,
		AggregateTimeout: cfg.Media.AggregateTimeout,
		Concurrency:      cfg.Media.Concurrency,
		RateLimit:        cfg.Media.RateLimit,
		MaxBytes:         cfg.Media.MaxBytes,
	}
}

// emit writes the payload to out and, when configured, to the artifact file.
// An artifact write failure is logged; stdout stays authoritative.
func emit(out io.Writer, cfg *config.Config, res post.Result, logger *zap.Logger) error {
	payload, err := res.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if _, err := fmt.Fprintln(out, string(payload)); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if cfg.Output.Artifact != "" {
		if err := writeFileAtomic(cfg.Output.Artifact, payload); err != nil {
			logger.Warn("Failed to write artifact.", zap.String("path", cfg.Output.Artifact), zap.Error(err))
		}
	}

	if !res.OK() {
		return errResultFailed
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
