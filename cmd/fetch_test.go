package cmd

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tweetgrab/internal/browser/browsertest"
	"github.com/xkilldash9x/tweetgrab/internal/post"
)

func decodePayload(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, jsoniter.Unmarshal(bytes.TrimSpace(data), &m))
	return m
}

func TestRunFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "orig", r.URL.Query().Get("name"))
		_ = png.Encode(w, image.NewRGBA(image.Rect(0, 0, 3, 2)))
	}))
	defer srv.Close()

	cfg := newTestConfig(t)
	photo := srv.URL + "/media/abc?format=jpg&name=small"
	useLauncher(t, singlePageLauncher(
		browsertest.Article("2025-05-02T00:00:00.000Z", "pinned", true),
		browsertest.Article("2025-05-01T09:30:00.000Z", "新作 🎉 release", false, photo),
	))

	var out bytes.Buffer
	err := runFetch(context.Background(), &out, cfg, "example", zaptest.NewLogger(t))
	require.NoError(t, err)

	// Exactly one line on stdout.
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.NotContains(t, out.String(), `\u`, "text must not be escaped")

	m := decodePayload(t, out.Bytes())
	assert.Equal(t, "新作 🎉 release", m["text"])
	assert.Equal(t, "2025-05-01T09:30:00.000Z", m["time"])
	assert.Equal(t, false, m["hasVideo"])
	assert.Equal(t, []any{photo}, m["images"])

	artifact, err := os.ReadFile(cfg.Output.Artifact)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(out.String()), string(artifact))

	_, err = os.Stat(filepath.Join(cfg.Media.Dir, "tweet_img_0.jpg"))
	assert.NoError(t, err)
}

func TestRunFetch_ErrorPayload(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Media.Enabled = false
	useLauncher(t, singlePageLauncher(browsertest.Article("2025-05-02T00:00:00.000Z", "pinned", true)))

	var out bytes.Buffer
	err := runFetch(context.Background(), &out, cfg, "example", zap.NewNop())
	require.ErrorIs(t, err, errResultFailed)

	m := decodePayload(t, out.Bytes())
	assert.Equal(t, map[string]any{"error": post.MsgNoData}, m)

	artifact, err := os.ReadFile(cfg.Output.Artifact)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"no tweet data found"}`, string(artifact))
}

func TestRunFetch_Deadline(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Media.Enabled = false
	cfg.Fetch.Deadline = 50 * time.Millisecond
	cfg.Acquire.ReadinessTimeout = time.Minute
	useLauncher(t, &browsertest.Launcher{NewPage: func(int) *browsertest.Page {
		return &browsertest.Page{WaitReadyFunc: func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		}}
	}})

	var out bytes.Buffer
	err := runFetch(context.Background(), &out, cfg, "example", zap.NewNop())
	require.ErrorIs(t, err, errResultFailed)
	assert.Equal(t, "deadline exceeded (50ms)", decodePayload(t, out.Bytes())["error"])
}

func TestFetchCmd(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	artifact := filepath.Join(dir, "out.json")
	useLauncher(t, singlePageLauncher(browsertest.Article("2025-05-01T09:30:00.000Z", "hello", false)))

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"fetch", "@example", "--no-media", "--output", artifact, "--attempts", "1"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, "hello", decodePayload(t, out.Bytes())["text"])
	assert.FileExists(t, artifact)
}

func TestFetchCmd_RequiresProfile(t *testing.T) {
	resetForTest(t)
	artifact := filepath.Join(t.TempDir(), "out.json")
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"fetch", "--output", artifact})

	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, errResultFailed)

	m := decodePayload(t, out.Bytes())
	assert.Len(t, m, 1)
	assert.Contains(t, m["error"], "no profile given")
	assert.FileExists(t, artifact)
}

func TestFetchCmd_InvalidConfigEmitsPayload(t *testing.T) {
	resetForTest(t)
	t.Setenv("TWEETGRAB_FETCH_MAX_ATTEMPTS", "0")
	useLauncher(t, singlePageLauncher(browsertest.Article("2025-05-01T09:30:00.000Z", "hello", false)))

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"fetch", "@example"})

	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, errResultFailed)
	assert.Contains(t, err.Error(), "fetch.max_attempts must be at least 1")

	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	m := decodePayload(t, out.Bytes())
	assert.Len(t, m, 1)
	assert.Contains(t, m["error"], "failed to load or validate config")
	assert.Contains(t, m["error"], "fetch.max_attempts must be at least 1")
}

func TestFetchCmd_UnreadableConfigEmitsPayload(t *testing.T) {
	resetForTest(t)
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"fetch", "@example", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, errResultFailed)
	assert.Contains(t, decodePayload(t, out.Bytes())["error"], "error reading config file")
}

func TestFetchCmd_InterruptSurfacesCancellation(t *testing.T) {
	resetForTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	waiting := make(chan struct{})
	var once sync.Once
	useLauncher(t, &browsertest.Launcher{NewPage: func(int) *browsertest.Page {
		return &browsertest.Page{WaitReadyFunc: func(ctx context.Context, _ string) error {
			once.Do(func() { close(waiting) })
			<-ctx.Done()
			return ctx.Err()
		}}
	}})
	go func() {
		<-waiting
		cancel()
	}()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"fetch", "@example", "--no-media", "--output", "", "--deadline", "1m"})

	err := root.ExecuteContext(ctx)
	require.ErrorIs(t, err, errResultFailed)
	assert.ErrorIs(t, err, context.Canceled, "the caller maps this to exit code 130")
	assert.Equal(t, "run cancelled: context canceled", decodePayload(t, out.Bytes())["error"])
}

func TestRunFetch_DownloaderUnavailable(t *testing.T) {
	cfg := newTestConfig(t)
	// Validated config never gets here, so break the media budget directly.
	cfg.Media.AggregateTimeout = cfg.Media.ItemTimeout
	useLauncher(t, singlePageLauncher(browsertest.Article("2025-05-01T09:30:00.000Z", "hello", false)))

	var out bytes.Buffer
	err := runFetch(context.Background(), &out, cfg, "example", zap.NewNop())
	require.ErrorIs(t, err, errResultFailed)
	assert.Contains(t, decodePayload(t, out.Bytes())["error"], "media stage unavailable: aggregate timeout")
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "a.json")
	require.NoError(t, writeFileAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, writeFileAtomic(path, []byte(`{"a":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
