package post

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Well-known failure messages.
const (
	MsgNoData   = "no tweet data found"
	MsgDeadline = "deadline exceeded"
)

// TimeSentinel is reported in place of a missing timestamp. Downstream
// consumers treat it as "not recent".
const TimeSentinel = "post"

// json keeps non-ASCII text such as emoji unescaped in the payload.
var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// ErrorOutcome is the failure half of a Result.
type ErrorOutcome struct {
	Message string
}

func (e *ErrorOutcome) Error() string { return e.Message }

// Result is the single answer of a run: a post or an error, never both.
type Result struct {
	Post *Snapshot
	Err  *ErrorOutcome
}

// Success wraps a consolidated snapshot.
func Success(s Snapshot) Result {
	return Result{Post: &s}
}

// Failure builds an error result from a message.
func Failure(msg string) Result {
	return Result{Err: &ErrorOutcome{Message: msg}}
}

// Failuref is Failure with formatting.
func Failuref(format string, args ...any) Result {
	return Failure(fmt.Sprintf(format, args...))
}

// OK reports whether the result carries a post.
func (r Result) OK() bool {
	return r.Post != nil && r.Err == nil
}

// wire shapes
type successPayload struct {
	Text     string   `json:"text"`
	Time     string   `json:"time"`
	IsPinned bool     `json:"isPinned"`
	HasVideo bool     `json:"hasVideo"`
	Images   []string `json:"images"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// MarshalJSON renders the payload written to stdout.
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.OK() {
		msg := "unknown error"
		if r.Err != nil && r.Err.Message != "" {
			msg = r.Err.Message
		}
		return json.Marshal(errorPayload{Error: msg})
	}

	p := r.Post
	ts := p.RawTime
	if ts == "" && !p.Timestamp.IsZero() {
		ts = p.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if ts == "" {
		ts = TimeSentinel
	}
	images := p.OutputImages()
	if images == nil {
		images = []string{}
	}
	return json.Marshal(successPayload{
		Text:     p.Text,
		Time:     ts,
		IsPinned: p.IsPinned,
		HasVideo: p.HasVideo,
		Images:   images,
	})
}

// ParseResult reads a payload previously produced by MarshalJSON. Images
// come back as photos unless the post has video.
func ParseResult(data []byte) (Result, error) {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("failed to decode result payload: %w", err)
	}
	if msg, ok := raw["error"]; ok {
		var e string
		if err := json.Unmarshal(msg, &e); err != nil {
			return Result{}, fmt.Errorf("failed to decode error message: %w", err)
		}
		return Failure(e), nil
	}

	var p successPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Result{}, fmt.Errorf("failed to decode post payload: %w", err)
	}
	if _, ok := raw["text"]; !ok {
		return Result{}, errors.New("payload has neither a post nor an error")
	}

	snap := Snapshot{
		Text:     p.Text,
		IsPinned: p.IsPinned,
		HasVideo: p.HasVideo,
	}
	if p.Time != TimeSentinel {
		snap.RawTime = p.Time
		if t, err := time.Parse(time.RFC3339Nano, p.Time); err == nil {
			snap.Timestamp = t
		}
	}
	kind := KindPhoto
	if p.HasVideo {
		kind = KindVideoThumb
	}
	for _, u := range p.Images {
		snap.Images = append(snap.Images, Image{URL: u, Kind: kind})
	}
	return Success(snap), nil
}
