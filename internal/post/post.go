// Package post holds the data model shared by every stage of a capture run:
// per-item snapshots, the consolidated result and media download outcomes.
package post

import (
	"time"
)

// ImageKind ranks the images attached to a snapshot.
type ImageKind string

const (
	// KindPhoto is a photo attachment; these are the only images downloaded.
	KindPhoto ImageKind = "photo"
	// KindVideoThumb is the poster frame of a video. Lower priority than photos.
	KindVideoThumb ImageKind = "videoThumb"
)

// Image is one media URL observed on a feed item, as rendered by the page.
type Image struct {
	URL  string    `json:"url"`
	Kind ImageKind `json:"kind"`
}

// Snapshot is the data extracted from one rendered feed item during one
// sampling pass.
type Snapshot struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"-"`
	// RawTime is the datetime attribute exactly as rendered. It is the
	// identity used for deduplication across passes.
	RawTime  string  `json:"time"`
	IsPinned bool    `json:"isPinned"`
	HasVideo bool    `json:"hasVideo"`
	Images   []Image `json:"-"`
}

// Photos returns the photo URLs in page order.
func (s Snapshot) Photos() []string {
	return s.urls(KindPhoto)
}

// OutputImages returns the URLs reported in the payload. Photos win; video
// thumbnails are reported only when the item carries no photo.
func (s Snapshot) OutputImages() []string {
	if photos := s.Photos(); len(photos) > 0 {
		return photos
	}
	return s.urls(KindVideoThumb)
}

func (s Snapshot) urls(kind ImageKind) []string {
	out := make([]string, 0, len(s.Images))
	for _, img := range s.Images {
		if img.Kind == kind {
			out = append(out, img.URL)
		}
	}
	return out
}

// DownloadOutcome reports the fate of one media download. Exactly one of
// StoredSize (on success) or Error (on failure) is meaningful.
type DownloadOutcome struct {
	Index      int    `json:"index"`
	SourceURL  string `json:"sourceUrl"`
	Path       string `json:"path,omitempty"`
	Success    bool   `json:"success"`
	StoredSize int64  `json:"storedSize,omitempty"`
	Error      string `json:"error,omitempty"`
}
