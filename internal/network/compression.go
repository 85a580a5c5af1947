// internal/network/compression.go
package network

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is advertised on media requests that do not set their own.
const acceptEncoding = "br, gzip, deflate"

// decoders maps a Content-Encoding token to a reader that undoes it.
var decoders = map[string]func(io.Reader) (io.ReadCloser, error){
	"br": func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(brotli.NewReader(r)), nil
	},
	"gzip":    openGzip,
	"x-gzip":  openGzip,
	"deflate": openDeflate,
}

// decodingTransport negotiates content coding and hands back decoded bodies,
// so the media stage counts and caps image bytes, not wire bytes.
type decodingTransport struct {
	next http.RoundTripper
}

func newDecodingTransport(next http.RoundTripper) *decodingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &decodingTransport{next: next}
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decode media response: %w", err)
	}
	return resp, nil
}

// decodeBody replaces resp.Body with its decoded stream. Codings are listed
// in the order the server applied them, so they are undone back to front.
func decodeBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	codings := contentCodings(resp.Header)
	if len(codings) == 0 {
		return nil
	}

	body := resp.Body
	for i := len(codings) - 1; i >= 0; i-- {
		coding := codings[i]
		if coding == "identity" {
			continue
		}
		open, ok := decoders[coding]
		if !ok {
			return fmt.Errorf("unsupported Content-Encoding %q", coding)
		}
		dec, err := open(body)
		if err != nil {
			return fmt.Errorf("%s: %w", coding, err)
		}
		body = &decodedBody{ReadCloser: dec, raw: body}
	}

	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func contentCodings(h http.Header) []string {
	var codings []string
	for _, v := range h.Values("Content-Encoding") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
				codings = append(codings, tok)
			}
		}
	}
	return codings
}

// decodedBody closes the decoder together with the stream beneath it.
type decodedBody struct {
	io.ReadCloser
	raw io.ReadCloser
}

func (b *decodedBody) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.raw.Close())
}

func openGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// openDeflate accepts zlib-wrapped (RFC 1950) and raw (RFC 1951) streams;
// servers disagree on which one "deflate" means. A zlib header uses method 8
// and its first two bytes form a multiple of 31.
func openDeflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	if hdr, err := br.Peek(2); err == nil && hdr[0]&0x0f == 8 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}
