package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = "gzip, deflate, br"

// decoders maps a Content-Encoding token to a body decoder.
var decoders = map[string]func(io.Reader) (io.Reader, error){
	"gzip": func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	"deflate": func(r io.Reader) (io.Reader, error) {
		return flate.NewReader(r), nil
	},
	"br": func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
}

// decode wraps the body in a decoder for its Content-Encoding. Unknown or
// broken encodings fall back to the raw body.
func (c *Client) decode(resp *http.Response) io.ReadCloser {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if encoding == "" || encoding == "identity" {
		return resp.Body
	}
	newDecoder, ok := decoders[encoding]
	if !ok {
		c.logger.Debug("unknown content encoding, returning raw body", slog.String("encoding", encoding))
		return resp.Body
	}
	r, err := newDecoder(resp.Body)
	if err != nil {
		c.logger.Warn("decoding body failed, returning raw body",
			slog.String("encoding", encoding),
			slog.String("error", err.Error()))
		return resp.Body
	}
	resp.Header.Del("Content-Encoding")
	resp.ContentLength = -1
	return decodedBody{Reader: r, body: resp.Body}
}

// decodedBody closes both the decoder and the underlying body.
type decodedBody struct {
	io.Reader
	body io.Closer
}

func (d decodedBody) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		c.Close()
	}
	return d.body.Close()
}

// limitedBody fails with ErrResponseTooLarge past its limit.
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}
