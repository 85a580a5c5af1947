package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xkilldash9x/tweetgrab/internal/observability"
	"github.com/xkilldash9x/tweetgrab/internal/post"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrAggregateTimeout is returned by DownloadAll when the stage budget ran
// out before every item finished. The outcomes are still complete.
var ErrAggregateTimeout = errors.New("media stage aggregate timeout")

const msgAggregateTimeout = "aggregate timeout"

// Config controls the download stage.
type Config struct {
	Dir              string
	FilePrefix       string
	FileExt          string
	ItemTimeout      time.Duration
	AggregateTimeout time.Duration
	// Concurrency caps in-flight downloads. Zero means one goroutine per item.
	Concurrency int
	// RateLimit is requests per second across the stage. Zero disables pacing.
	RateLimit float64
	// MaxBytes rejects oversized bodies. Zero disables the check.
	MaxBytes int64
}

// Validate enforces that the aggregate budget outlasts any single item.
func (c Config) Validate() error {
	if c.ItemTimeout <= 0 {
		return fmt.Errorf("item timeout must be positive")
	}
	if c.AggregateTimeout <= c.ItemTimeout {
		return fmt.Errorf("aggregate timeout %s must exceed item timeout %s", c.AggregateTimeout, c.ItemTimeout)
	}
	return nil
}

// Downloader fetches the photos of a post concurrently.
type Downloader struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDownloader creates a Downloader. A nil client selects http.DefaultClient.
func NewDownloader(cfg Config, client *http.Client, logger *zap.Logger) (*Downloader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FileExt == "" {
		cfg.FileExt = ".jpg"
	}
	d := &Downloader{
		cfg:    cfg,
		client: client,
		logger: logger.Named("media"),
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return d, nil
}

// FileName returns the on-disk name for the image at index i.
func (c Config) FileName(i int) string {
	return filepath.Join(c.Dir, c.FilePrefix+strconv.Itoa(i)+c.FileExt)
}

// FileName returns the on-disk name for the image at index i.
func (d *Downloader) FileName(i int) string {
	return d.cfg.FileName(i)
}

// DownloadAll downloads every photo of p. Posts with video, or without
// photos, are skipped and yield no outcomes.
//
// Items run independently: one failing or timing out never cancels the
// others. The returned slice has exactly one outcome per photo, in page
// order. If the aggregate budget expires first, unfinished items are
// reported as failed and ErrAggregateTimeout is returned alongside. If ctx
// ends first, its error is returned instead.
func (d *Downloader) DownloadAll(ctx context.Context, p post.Snapshot) ([]post.DownloadOutcome, error) {
	if p.HasVideo {
		d.logger.Debug("Post has video; skipping media stage.")
		return nil, nil
	}
	photos := p.Photos()
	if len(photos) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	aggCtx, cancel := context.WithTimeout(ctx, d.cfg.AggregateTimeout)
	defer cancel()

	var (
		outcomes = make([]post.DownloadOutcome, len(photos))
		g        errgroup.Group
	)
	if d.cfg.Concurrency > 0 {
		g.SetLimit(d.cfg.Concurrency)
	}

	start := time.Now()
	for i, src := range photos {
		g.Go(func() error {
			// Each worker owns its slot; errors are recorded, never returned.
			outcomes[i] = d.fetchOne(ctx, aggCtx, i, src)
			return nil
		})
	}

	// Workers observe aggCtx, so once it expires they exit promptly and
	// remove their partial files.
	_ = g.Wait()

	var stageErr error
	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		} else if o.Error == msgAggregateTimeout {
			stageErr = ErrAggregateTimeout
		}
	}
	if err := ctx.Err(); err != nil && succeeded < len(photos) {
		stageErr = err
	}
	fields := []zap.Field{
		zap.Int("total", len(photos)),
		zap.Int("succeeded", succeeded),
		zap.Duration("elapsed", time.Since(start)),
	}
	if stageErr != nil {
		d.logger.Warn("Media stage did not finish within its budget.", append(fields, zap.Error(stageErr))...)
	} else {
		d.logger.Info("Media stage complete.", fields...)
	}
	return outcomes, stageErr
}

// fetchOne downloads a single photo under the per-item timeout. It never
// leaves a partial file behind. Failures name the budget that ran out: the
// caller's context first, then the stage budget, then the item's own.
func (d *Downloader) fetchOne(parent, ctx context.Context, i int, src string) post.DownloadOutcome {
	out := post.DownloadOutcome{Index: i, SourceURL: src}
	resolved := ResolveHighRes(src)
	logger := d.logger.With(zap.Int("index", i), zap.String("url", resolved))

	itemCtx, cancel := context.WithTimeout(ctx, d.cfg.ItemTimeout)
	defer cancel()

	path := d.FileName(i)
	n, err := d.fetchToFile(itemCtx, resolved, path)
	if err != nil {
		switch {
		case parent.Err() != nil:
			out.Error = "cancelled: " + parent.Err().Error()
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			out.Error = msgAggregateTimeout
		case errors.Is(itemCtx.Err(), context.DeadlineExceeded):
			out.Error = fmt.Sprintf("item timeout after %s", d.cfg.ItemTimeout)
		default:
			out.Error = err.Error()
		}
		logger.Warn("Image download failed.", zap.String("reason", out.Error), zap.Error(err))
		return out
	}

	out.Success = true
	out.Path = path
	out.StoredSize = n
	logger.Debug("Image stored.", zap.String("path", path), observability.Bytes("size", n))
	return out
}

func (d *Downloader) fetchToFile(ctx context.Context, src, path string) (int64, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid media URL: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	var body io.Reader = resp.Body
	if d.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, d.cfg.MaxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if err != nil {
		return 0, fmt.Errorf("failed to read body: %w", err)
	}
	if d.cfg.MaxBytes > 0 && n > d.cfg.MaxBytes {
		return 0, fmt.Errorf("body exceeds %d bytes", d.cfg.MaxBytes)
	}
	if n == 0 {
		return 0, errors.New("empty body")
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush file: %w", err)
	}
	// A deadline that fired mid-copy must not produce a file.
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("failed to commit file: %w", err)
	}
	committed = true
	return n, nil
}
