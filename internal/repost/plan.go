// Package repost turns a captured result into a ready-to-publish plan:
// cleaned and truncated text, rich-text facets, images with dimensions and
// the checks that decide whether the post should go out at all.
package repost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/media"
	"github.com/xkilldash9x/tweetgrab/internal/post"
)

// ErrNoPost is returned when the result carries an error instead of a post.
var ErrNoPost = errors.New("result has no post")

// Rule maps a keyword in the post text to a stand-in image.
type Rule struct {
	Keyword string
	Image   string
}

// Options drive Plan.
type Options struct {
	Now        time.Time
	MaxAge     time.Duration
	MaxBytes   int
	DefaultAlt string

	// ImagePath names the downloaded file of the i-th photo.
	ImagePath func(i int) string

	FallbackDir     string
	DefaultFallback string
	Fallbacks       []Rule

	// History holds recently published texts, newest first.
	History []string
}

// Image is an attachment ready for upload.
type Image struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Alt    string `json:"alt"`
}

// Plan describes what would be published.
type Plan struct {
	Text      string  `json:"text"`
	FullText  string  `json:"fullText"`
	Truncated bool    `json:"truncated"`
	Facets    []Facet `json:"facets"`
	Images    []Image `json:"images"`
	Fallback  bool    `json:"fallback"`
	Time      string  `json:"time"`
	Recent    bool    `json:"recent"`
	Duplicate bool    `json:"duplicate"`
	Postable  bool    `json:"postable"`
	Reason    string  `json:"reason,omitempty"`
}

// FallbackImage picks the stand-in image for text. Rules are tried in order
// and match case-insensitively; a rule only wins when its image exists.
// Otherwise the default is returned, existing or not.
func FallbackImage(text string, dir string, rules []Rule, def string) string {
	lower := strings.ToLower(text)
	if lower != "" {
		for _, r := range rules {
			if r.Keyword == "" || !strings.Contains(lower, strings.ToLower(r.Keyword)) {
				continue
			}
			p := filepath.Join(dir, r.Image)
			if fileExists(p) {
				return p
			}
		}
	}
	return filepath.Join(dir, def)
}

// Build assembles the plan for res. Missing image files are skipped rather
// than failing the plan.
func Build(res post.Result, opts Options, logger *zap.Logger) (Plan, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !res.OK() {
		msg := "unknown error"
		if res.Err != nil {
			msg = res.Err.Message
		}
		return Plan{}, fmt.Errorf("%w: %s", ErrNoPost, msg)
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	p := res.Post

	full := CleanText(p.Text)
	text, truncated := Truncate(full, opts.MaxBytes)
	plan := Plan{
		Text:      text,
		FullText:  full,
		Truncated: truncated,
		Facets:    Facets(text),
		Time:      p.RawTime,
		Recent:    IsRecent(p.Timestamp, opts.Now, opts.MaxAge),
		Duplicate: IsDuplicate(full, opts.History),
	}
	if plan.Time == "" {
		plan.Time = post.TimeSentinel
	}

	alt := opts.DefaultAlt
	if truncated {
		alt = full
	}

	var paths []string
	photos := p.Photos()
	if p.HasVideo || len(photos) == 0 {
		plan.Fallback = true
		paths = []string{FallbackImage(full, opts.FallbackDir, opts.Fallbacks, opts.DefaultFallback)}
	} else if opts.ImagePath != nil {
		for i := range photos {
			paths = append(paths, opts.ImagePath(i))
		}
	}

	for _, path := range paths {
		if !fileExists(path) {
			logger.Debug("Image file missing; skipping.", zap.String("path", path))
			continue
		}
		w, h, err := media.Dimensions(path)
		if err != nil {
			logger.Warn("Could not read image dimensions; skipping.", zap.String("path", path), zap.Error(err))
			continue
		}
		plan.Images = append(plan.Images, Image{Path: path, Width: w, Height: h, Alt: alt})
	}

	switch {
	case full == "":
		plan.Reason = "empty text"
	case !plan.Recent:
		plan.Reason = fmt.Sprintf("older than %s", opts.MaxAge)
	case plan.Duplicate:
		plan.Reason = "already posted"
	default:
		plan.Postable = true
	}
	return plan, nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
