package repost

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const ellipsis = "..."

var (
	splitLink  = regexp.MustCompile(`(https?://)\n`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	facetToken = regexp.MustCompile(`https?://\S+|#[\p{L}\p{N}_]+`)
)

// CleanText normalizes scraped text for posting. Each line is trimmed,
// links broken after the scheme are rejoined and runs of blank lines are
// collapsed to one.
func CleanText(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text := strings.TrimSpace(strings.Join(lines, "\n"))
	text = splitLink.ReplaceAllString(text, "$1")
	return blankLines.ReplaceAllString(text, "\n\n")
}

// IsRecent reports whether ts is younger than maxAge. A zero time, which is
// what a sentinel timestamp parses to, is never recent.
func IsRecent(ts, now time.Time, maxAge time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) < maxAge
}

// Truncate shortens text to fit maxBytes of UTF-8. Oversized text is cut on
// a rune boundary leaving room for an ellipsis plus a small margin. The
// second result reports whether anything was cut.
func Truncate(text string, maxBytes int) (string, bool) {
	if len(text) <= maxBytes {
		return text, false
	}
	limit := maxBytes - len(ellipsis) - 2
	if limit < 0 {
		limit = 0
	}
	cut := text[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + ellipsis, true
}

// FacetKind distinguishes rich-text annotations.
type FacetKind string

const (
	FacetLink FacetKind = "link"
	FacetTag  FacetKind = "tag"
)

// Facet annotates a byte range of the post text.
type Facet struct {
	Kind      FacetKind `json:"kind"`
	ByteStart int       `json:"byteStart"`
	ByteEnd   int       `json:"byteEnd"`
	// Value is the link target or the tag without its leading '#'.
	Value string `json:"value"`
}

// Facets finds links and hashtags in text. Offsets are UTF-8 byte offsets.
func Facets(text string) []Facet {
	var out []Facet
	for _, loc := range facetToken.FindAllStringIndex(text, -1) {
		tok := text[loc[0]:loc[1]]
		f := Facet{ByteStart: loc[0], ByteEnd: loc[1]}
		if strings.HasPrefix(tok, "#") {
			f.Kind, f.Value = FacetTag, tok[1:]
		} else {
			f.Kind, f.Value = FacetLink, tok
		}
		out = append(out, f)
	}
	return out
}

const prefixCompareRunes = 100

// IsDuplicate reports whether text was already posted. Comparison ignores
// case and surrounding space. Texts longer than 50 runes also match on
// their first 100 runes, which absorbs small formatting drift.
func IsDuplicate(text string, history []string) bool {
	clean := strings.ToLower(strings.TrimSpace(text))
	if clean == "" {
		return false
	}
	long := utf8.RuneCountInString(clean) > 50
	for _, h := range history {
		existing := strings.ToLower(strings.TrimSpace(h))
		if existing == clean {
			return true
		}
		if long && runePrefix(clean, prefixCompareRunes) == runePrefix(existing, prefixCompareRunes) {
			return true
		}
	}
	return false
}

func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
