package extract

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parseRegion(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader(`<div id="r">` + markup + `</div>`))
	require.NoError(t, err)
	n := htmlquery.FindOne(doc, `//div[@id="r"]`)
	require.NotNil(t, n)
	return n
}

func TestReconstructText(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
	}{
		{"inline image between text", `Hello <img alt="🔥"> world`, "Hello 🔥 world"},
		{"nested spans", `<span>a<span>b<span>c</span></span>d</span>e`, "abcde"},
		{"image without alt contributes nothing", `x<img src="s.png">y`, "xy"},
		{"whitespace kept verbatim", "  line one\n\nline two  ", "  line one\n\nline two  "},
		{"empty elements", `<span></span><br><span>only</span>`, "only"},
		{"comments skipped", `a<!-- hidden -->b`, "ab"},
		{"only an image", `<img alt="✨">`, "✨"},
		{"empty region", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReconstructText(parseRegion(t, tt.markup)))
		})
	}

	t.Run("nil node", func(t *testing.T) {
		assert.Equal(t, "", ReconstructText(nil))
	})

	t.Run("img root contributes its alt", func(t *testing.T) {
		n := parseRegion(t, `<img alt="🌙">`).FirstChild
		assert.Equal(t, "🌙", ReconstructText(n))
	})
}

func TestReconstructTextDepthBound(t *testing.T) {
	// Build the tree directly; the HTML parser itself caps nesting depth.
	root := &html.Node{Type: html.ElementNode, Data: "div"}
	cur := root
	for i := 0; i < 10_000; i++ {
		child := &html.Node{Type: html.ElementNode, Data: "span"}
		cur.AppendChild(child)
		cur = child
	}
	cur.AppendChild(&html.Node{Type: html.TextNode, Data: "deep"})
	root.AppendChild(&html.Node{Type: html.TextNode, Data: "shallow"})

	text, truncated := ReconstructTextDepth(root, 64)
	assert.True(t, truncated)
	assert.Equal(t, "shallow", text)

	text, truncated = ReconstructTextDepth(root, 20_000)
	assert.False(t, truncated)
	assert.Equal(t, "deepshallow", text)
}

func FuzzReconstructText(f *testing.F) {
	f.Add([]byte(`<span>seed <img alt="x"></span>`))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		markup, err := c.GetString()
		if err != nil {
			return
		}
		depth, err := c.GetInt()
		if err != nil {
			depth = DefaultMaxDepth
		}
		doc, err := html.Parse(strings.NewReader(markup))
		if err != nil {
			return
		}
		// Must terminate without panicking for any markup and any bound.
		_, _ = ReconstructTextDepth(doc, depth%1024)
	})
}
