// File: cmd/helpers_test.go
package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/browser"
	"github.com/xkilldash9x/tweetgrab/internal/browser/browsertest"
	"github.com/xkilldash9x/tweetgrab/internal/config"
)

// newTestConfig returns the default configuration tuned for fast tests, with
// every file the commands write placed under a temp dir.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.NewDefaultConfig()
	cfg.Fetch.Profile = "example"
	cfg.Fetch.Deadline = 5 * time.Second
	cfg.Fetch.RetryDelay = time.Millisecond
	cfg.Fetch.CleanupGrace = 500 * time.Millisecond
	cfg.Acquire.NavigationTimeout = time.Second
	cfg.Acquire.ReadinessTimeout = 100 * time.Millisecond
	cfg.Acquire.PassPause = time.Millisecond
	cfg.Media.Dir = filepath.Join(dir, "media")
	cfg.Media.ItemTimeout = time.Second
	cfg.Media.AggregateTimeout = 2 * time.Second
	cfg.Output.Artifact = filepath.Join(dir, "latest_tweet.json")
	cfg.Repost.FallbackDir = dir
	return cfg
}

// useLauncher swaps the browser launcher for the duration of the test.
func useLauncher(t *testing.T, l browser.Launcher) {
	t.Helper()
	orig := launcherFactory
	launcherFactory = func(context.Context, *config.Config, *zap.Logger) (browser.Launcher, func(), error) {
		return l, func() {}, nil
	}
	t.Cleanup(func() { launcherFactory = orig })
}

func singlePageLauncher(articles ...string) *browsertest.Launcher {
	return &browsertest.Launcher{NewPage: func(int) *browsertest.Page {
		return &browsertest.Page{Passes: [][]string{articles}}
	}}
}
