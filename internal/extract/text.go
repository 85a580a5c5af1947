// Package extract turns the rendered markup of a feed item into a post.Snapshot.
package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMaxDepth bounds how far below the text region the reconstructor
// descends. Real post markup is a handful of levels deep.
const DefaultMaxDepth = 512

// ReconstructText concatenates the readable text under n in document order.
// Text nodes contribute their content verbatim and inline images contribute
// their alt text, so emoji rendered as pictures survive as characters.
func ReconstructText(n *html.Node) string {
	text, _ := ReconstructTextDepth(n, DefaultMaxDepth)
	return text
}

// ReconstructTextDepth is ReconstructText with an explicit depth bound. The
// returned flag is true when a subtree was skipped for exceeding maxDepth.
func ReconstructTextDepth(n *html.Node, maxDepth int) (string, bool) {
	if n == nil {
		return "", false
	}

	type frame struct {
		node  *html.Node
		depth int
	}

	var (
		sb        strings.Builder
		truncated bool
		stack     = []frame{{node: n}}
	)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch f.node.Type {
		case html.TextNode:
			sb.WriteString(f.node.Data)
			continue
		case html.ElementNode:
			if f.node.DataAtom == atom.Img {
				sb.WriteString(attr(f.node, "alt"))
				continue
			}
		case html.DocumentNode:
		default:
			// comments, doctypes
			continue
		}

		if f.node.FirstChild == nil {
			continue
		}
		if f.depth >= maxDepth {
			truncated = true
			continue
		}
		// Push in reverse so the first child is visited first.
		for c := f.node.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, frame{node: c, depth: f.depth + 1})
		}
	}

	return sb.String(), truncated
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}
