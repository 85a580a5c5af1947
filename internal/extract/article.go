package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/xkilldash9x/tweetgrab/internal/post"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ErrNoTimestamp marks an item with no publication time, such as a promoted
// entry or a "who to follow" card. Such items are never candidates.
var ErrNoTimestamp = errors.New("item has no timestamp")

// Markers identifying the parts of a rendered feed item.
const (
	xpathTime          = `//time[@datetime]`
	xpathText          = `//*[@data-testid="tweetText"]`
	xpathSocialContext = `//*[@data-testid="socialContext"]`
	xpathVideo         = `//*[@data-testid="videoPlayer" or @data-testid="videoComponent"] | //video`
	xpathPhotos        = `//*[@data-testid="tweetPhoto"]//img[@src]`
	xpathPosters       = `//video[@poster]`

	pinnedLabel = "Pinned"
)

// Extractor pulls snapshots out of feed-item markup.
type Extractor struct {
	maxDepth int
	logger   *zap.Logger
}

// New creates an Extractor. A non-positive maxDepth selects DefaultMaxDepth.
func New(logger *zap.Logger, maxDepth int) *Extractor {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{maxDepth: maxDepth, logger: logger.Named("extract")}
}

// Article parses the outer HTML of one feed item.
func (e *Extractor) Article(outerHTML string) (post.Snapshot, error) {
	doc, err := htmlquery.Parse(strings.NewReader(outerHTML))
	if err != nil {
		return post.Snapshot{}, fmt.Errorf("failed to parse item markup: %w", err)
	}
	return e.fromNode(doc)
}

func (e *Extractor) fromNode(doc *html.Node) (post.Snapshot, error) {
	var s post.Snapshot

	// The first time element belongs to the item itself; later ones belong
	// to quoted posts.
	timeNode := htmlquery.FindOne(doc, xpathTime)
	if timeNode == nil {
		return s, ErrNoTimestamp
	}
	s.RawTime = strings.TrimSpace(htmlquery.SelectAttr(timeNode, "datetime"))
	if s.RawTime == "" {
		return s, ErrNoTimestamp
	}
	ts, err := time.Parse(time.RFC3339Nano, s.RawTime)
	if err != nil {
		return s, fmt.Errorf("%w: unparsable datetime %q", ErrNoTimestamp, s.RawTime)
	}
	s.Timestamp = ts

	if textNode := htmlquery.FindOne(doc, xpathText); textNode != nil {
		text, truncated := ReconstructTextDepth(textNode, e.maxDepth)
		if truncated {
			e.logger.Debug("Text region exceeded depth bound; deep subtree skipped.",
				zap.String("time", s.RawTime), zap.Int("max_depth", e.maxDepth))
		}
		s.Text = text
	}

	for _, n := range htmlquery.Find(doc, xpathSocialContext) {
		if strings.Contains(htmlquery.InnerText(n), pinnedLabel) {
			s.IsPinned = true
			break
		}
	}

	s.HasVideo = htmlquery.FindOne(doc, xpathVideo) != nil

	for _, img := range htmlquery.Find(doc, xpathPhotos) {
		if src := htmlquery.SelectAttr(img, "src"); src != "" {
			s.Images = append(s.Images, post.Image{URL: src, Kind: post.KindPhoto})
		}
	}
	for _, v := range htmlquery.Find(doc, xpathPosters) {
		if poster := htmlquery.SelectAttr(v, "poster"); poster != "" {
			s.Images = append(s.Images, post.Image{URL: poster, Kind: post.KindVideoThumb})
		}
	}

	return s, nil
}
