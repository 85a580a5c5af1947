package browser

import (
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestFilter(t *testing.T) {
	t.Run("default set", func(t *testing.T) {
		f, err := NewRequestFilter([]string{"Font", "Stylesheet", "Media"}, nil)
		require.NoError(t, err)

		assert.True(t, f.Blocks(network.ResourceTypeFont))
		assert.True(t, f.Blocks(network.ResourceTypeStylesheet))
		assert.True(t, f.Blocks(network.ResourceTypeMedia))
		assert.False(t, f.Blocks(network.ResourceTypeImage))
		assert.False(t, f.Blocks(network.ResourceTypeDocument))
		assert.False(t, f.Blocks(network.ResourceTypeScript))
	})

	t.Run("image can never be blocked", func(t *testing.T) {
		_, err := NewRequestFilter([]string{"font", " IMAGE "}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be blocked")
	})

	t.Run("documents and scripts are not blockable", func(t *testing.T) {
		for _, name := range []string{"Document", "Script", "XHR", "bogus"} {
			_, err := NewRequestFilter([]string{name}, nil)
			assert.Error(t, err, name)
		}
	})

	t.Run("empty filter has no patterns", func(t *testing.T) {
		f, err := NewRequestFilter(nil, nil)
		require.NoError(t, err)
		assert.Empty(t, f.Patterns())
		assert.Zero(t, f.Blocked())
	})
}

func TestRequestFilterPatterns(t *testing.T) {
	f, err := NewRequestFilter([]string{"font", "media", "Font"}, nil)
	require.NoError(t, err)

	patterns := f.Patterns()
	require.Len(t, patterns, 2, "duplicates collapse")

	var types []network.ResourceType
	for _, p := range patterns {
		assert.Equal(t, "*", p.URLPattern)
		assert.Equal(t, fetch.RequestStageRequest, p.RequestStage)
		types = append(types, p.ResourceType)
	}
	assert.ElementsMatch(t, []network.ResourceType{network.ResourceTypeFont, network.ResourceTypeMedia}, types)
}
