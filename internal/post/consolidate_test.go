package post

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(raw, text string, pinned bool) Snapshot {
	s := Snapshot{Text: text, RawTime: raw, IsPinned: pinned}
	if raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			panic(err)
		}
		s.Timestamp = t
	}
	return s
}

func TestConsolidate(t *testing.T) {
	t.Run("newest non-pinned wins over pinned newer item", func(t *testing.T) {
		got, ok := Consolidate([]Snapshot{
			snap("2025-01-01T10:00:00.000Z", "pinned", true),
			snap("2025-01-01T09:00:00.000Z", "A", false),
			snap("2025-01-01T08:00:00.000Z", "B", false),
		})
		require.True(t, ok)
		assert.Equal(t, "A", got.Text)
	})

	t.Run("duplicates across passes keep the first observation", func(t *testing.T) {
		got, ok := Consolidate([]Snapshot{
			snap("2025-01-01T09:00:00.000Z", "first render", false),
			snap("2025-01-01T07:00:00.000Z", "older", false),
			snap("2025-01-01T09:00:00.000Z", "second render", false),
		})
		require.True(t, ok)
		assert.Equal(t, "first render", got.Text)
	})

	t.Run("pinned first observation suppresses later copies", func(t *testing.T) {
		got, ok := Consolidate([]Snapshot{
			snap("2025-01-01T09:00:00.000Z", "pinned copy", true),
			snap("2025-01-01T09:00:00.000Z", "unpinned copy", false),
			snap("2025-01-01T07:00:00.000Z", "older", false),
		})
		require.True(t, ok)
		assert.Equal(t, "older", got.Text)
	})

	t.Run("only pinned items yields nothing", func(t *testing.T) {
		_, ok := Consolidate([]Snapshot{
			snap("2025-01-01T09:00:00.000Z", "p1", true),
			snap("2025-01-01T08:00:00.000Z", "p2", true),
		})
		assert.False(t, ok)
	})

	t.Run("items without timestamps are ignored", func(t *testing.T) {
		got, ok := Consolidate([]Snapshot{
			{Text: "ad"},
			snap("2025-01-01T06:00:00.000Z", "real", false),
		})
		require.True(t, ok)
		assert.Equal(t, "real", got.Text)

		_, ok = Consolidate([]Snapshot{{Text: "ad"}})
		assert.False(t, ok)
	})

	t.Run("empty input", func(t *testing.T) {
		_, ok := Consolidate(nil)
		assert.False(t, ok)
	})

	t.Run("equal instants keep observation order", func(t *testing.T) {
		got, ok := Consolidate([]Snapshot{
			snap("2025-01-01T09:00:00Z", "first", false),
			snap("2025-01-01T09:00:00.000Z", "second", false),
		})
		require.True(t, ok)
		assert.Equal(t, "first", got.Text)
	})

	t.Run("order of input does not matter beyond ties", func(t *testing.T) {
		items := []Snapshot{
			snap("2025-01-01T01:00:00.000Z", "1", false),
			snap("2025-01-03T01:00:00.000Z", "3", false),
			snap("2025-01-02T01:00:00.000Z", "2", false),
		}
		got, ok := Consolidate(items)
		require.True(t, ok)
		if diff := cmp.Diff(items[1], got); diff != "" {
			t.Errorf("Consolidate() mismatch (-want +got):\n%s", diff)
		}
	})
}
