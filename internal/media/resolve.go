// Package media resolves full-resolution photo URLs and downloads them.
package media

import (
	"net/url"
	"strings"
)

const origSize = "orig"

// ResolveHighRes rewrites a rendered media URL to request the original
// resolution. Two shapes are recognised:
//
//	https://pbs.twimg.com/media/ID?format=jpg&name=small  -> name=orig, format kept
//	https://pbs.twimg.com/media/ID.jpg:small             -> ID.jpg:orig
//
// Anything else is returned unchanged.
func ResolveHighRes(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return raw
	}

	q := u.Query()
	if q.Has("name") || q.Has("format") {
		q.Set("name", origSize)
		u.RawQuery = q.Encode()
		return u.String()
	}

	lastSlash := strings.LastIndex(u.Path, "/")
	if colon := strings.LastIndex(u.Path, ":"); colon > lastSlash && colon < len(u.Path)-1 {
		u.Path = u.Path[:colon+1] + origSize
		u.RawPath = ""
		return u.String()
	}

	return raw
}
