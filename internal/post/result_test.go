package post

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultMarshalJSON(t *testing.T) {
	t.Run("success payload", func(t *testing.T) {
		s := snap("2025-03-04T05:06:07.000Z", "hello 🌸 & <world>", false)
		s.Images = []Image{
			{URL: "https://pbs.twimg.com/media/a?format=jpg&name=small", Kind: KindPhoto},
			{URL: "https://pbs.twimg.com/media/b?format=jpg&name=small", Kind: KindPhoto},
		}

		data, err := Success(s).MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"text": "hello 🌸 & <world>",
			"time": "2025-03-04T05:06:07.000Z",
			"isPinned": false,
			"hasVideo": false,
			"images": [
				"https://pbs.twimg.com/media/a?format=jpg&name=small",
				"https://pbs.twimg.com/media/b?format=jpg&name=small"
			]
		}`, string(data))
		assert.Contains(t, string(data), "🌸", "emoji must not be escaped")
		assert.Contains(t, string(data), "<world>", "HTML must not be escaped")
	})

	t.Run("missing time uses the sentinel and images is never null", func(t *testing.T) {
		data, err := Success(Snapshot{Text: "x"}).MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"text":"x","time":"post","isPinned":false,"hasVideo":false,"images":[]}`, string(data))
	})

	t.Run("thumbnails only when there are no photos", func(t *testing.T) {
		s := Snapshot{Text: "v", HasVideo: true, Images: []Image{{URL: "thumb", Kind: KindVideoThumb}}}
		assert.Equal(t, []string{"thumb"}, s.OutputImages())

		s.Images = append(s.Images, Image{URL: "photo", Kind: KindPhoto})
		assert.Equal(t, []string{"photo"}, s.OutputImages())
	})

	t.Run("failure payload", func(t *testing.T) {
		data, err := Failure(MsgNoData).MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":"no tweet data found"}`, string(data))
	})

	t.Run("zero result reports an error, never an empty post", func(t *testing.T) {
		data, err := Result{}.MarshalJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":"unknown error"}`, string(data))
	})

	t.Run("value marshaling through jsoniter uses the custom form", func(t *testing.T) {
		data, err := json.Marshal(Failuref("%s (%s)", MsgDeadline, 30*time.Second))
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":"deadline exceeded (30s)"}`, string(data))
	})
}

func TestParseResult(t *testing.T) {
	t.Run("round trip of a success payload", func(t *testing.T) {
		s := snap("2025-03-04T05:06:07.000Z", "body", true)
		s.Images = []Image{{URL: "u1", Kind: KindPhoto}}
		data, err := Success(s).MarshalJSON()
		require.NoError(t, err)

		got, err := ParseResult(data)
		require.NoError(t, err)
		require.True(t, got.OK())
		assert.Equal(t, "body", got.Post.Text)
		assert.True(t, got.Post.IsPinned)
		assert.True(t, s.Timestamp.Equal(got.Post.Timestamp))
		assert.Equal(t, []string{"u1"}, got.Post.Photos())
	})

	t.Run("sentinel time stays empty", func(t *testing.T) {
		got, err := ParseResult([]byte(`{"text":"t","time":"post","isPinned":false,"hasVideo":false,"images":[]}`))
		require.NoError(t, err)
		assert.Empty(t, got.Post.RawTime)
		assert.True(t, got.Post.Timestamp.IsZero())
	})

	t.Run("error payload", func(t *testing.T) {
		got, err := ParseResult([]byte(`{"error":"boom"}`))
		require.NoError(t, err)
		assert.False(t, got.OK())
		assert.Equal(t, "boom", got.Err.Message)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseResult([]byte(`[1,2]`))
		assert.Error(t, err)

		_, err = ParseResult([]byte(`{"unrelated":true}`))
		assert.Error(t, err)
	})
}
