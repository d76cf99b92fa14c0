package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned for content codings the gateway cannot
// decode. Such bodies are passed through without injection.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// decodeBody returns a reader over the decoded body. Closing it closes body.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch enc {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	case "deflate":
		return decodeDeflate(body)
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []io.Closer{body}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		rc := zr.IOReadCloser()
		return &decodedBody{Reader: rc, closers: []io.Closer{rc, body}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, contentEncoding)
}

// decodeDeflate handles both zlib-wrapped streams (what RFC 9110 calls
// deflate) and the raw deflate streams some servers send instead.
func decodeDeflate(body io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(body)
	header, err := br.Peek(2)
	if err == nil && isZlibHeader(header[0], header[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	}
	fr := flate.NewReader(br)
	return &decodedBody{Reader: fr, closers: []io.Closer{fr, body}}, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// replayBody records what a decoder consumes while parsing its header so the
// raw body can be restored when decoding fails.
type replayBody struct {
	src    io.ReadCloser
	buf    bytes.Buffer
	record bool
}

func newReplayBody(src io.ReadCloser) *replayBody {
	return &replayBody{src: src, record: true}
}

func (b *replayBody) Read(p []byte) (int, error) {
	n, err := b.src.Read(p)
	if b.record && n > 0 {
		b.buf.Write(p[:n])
	}
	return n, err
}

func (b *replayBody) Close() error {
	return b.src.Close()
}

// commit stops recording.
func (b *replayBody) commit() {
	b.record = false
	b.buf = bytes.Buffer{}
}

// rewind returns the recorded bytes followed by the unread rest of src.
func (b *replayBody) rewind() io.ReadCloser {
	b.record = false
	return &decodedBody{
		Reader:  io.MultiReader(bytes.NewReader(b.buf.Bytes()), b.src),
		closers: []io.Closer{b.src},
	}
}
