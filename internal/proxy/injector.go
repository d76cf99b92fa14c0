package proxy

import (
	"bytes"
	"io"
	"strings"
)

const (
	// flushThreshold is the buffered size above which unmatched bytes are
	// released downstream.
	flushThreshold = 1024
	// tailWindow is kept back on every flush so a closing tag split across
	// chunks is still found.
	tailWindow = 100
)

var closingBody = []byte("</body>")

// Injector inserts a payload immediately before the first </body> of a
// streamed HTML document, matching the tag case-insensitively. The payload
// is emitted exactly once: before the tag when one is seen, otherwise at the
// end of the stream.
type Injector struct {
	payload []byte
	buf     []byte
	done    bool
}

// NewInjector returns an Injector for payload.
func NewInjector(payload string) *Injector {
	return &Injector{payload: []byte(payload)}
}

// Feed consumes the next chunk and returns the bytes ready to be written.
// The returned slice may alias chunk.
func (in *Injector) Feed(chunk []byte) []byte {
	if in.done {
		return chunk
	}

	in.buf = append(in.buf, chunk...)
	if i := indexFold(in.buf, closingBody); i >= 0 {
		out := make([]byte, 0, len(in.buf)+len(in.payload))
		out = append(out, in.buf[:i]...)
		out = append(out, in.payload...)
		out = append(out, in.buf[i:]...)
		in.buf = nil
		in.done = true
		return out
	}

	if len(in.buf) > flushThreshold {
		n := len(in.buf) - tailWindow
		out := make([]byte, n)
		copy(out, in.buf[:n])
		in.buf = append(in.buf[:0], in.buf[n:]...)
		return out
	}
	return nil
}

// Finish ends the stream, returning whatever is still buffered followed by
// the payload when no closing tag was seen.
func (in *Injector) Finish() []byte {
	if in.done {
		return nil
	}
	in.done = true
	out := make([]byte, 0, len(in.buf)+len(in.payload))
	out = append(out, in.buf...)
	out = append(out, in.payload...)
	in.buf = nil
	return out
}

// Injected reports whether the payload has been emitted.
func (in *Injector) Injected() bool {
	return in.done
}

// indexFold returns the index of the first ASCII case-insensitive match of
// sep in s, or -1.
func indexFold(s, sep []byte) int {
	n := len(sep)
	for i := 0; i+n <= len(s); i++ {
		if s[i] == '<' && bytes.EqualFold(s[i:i+n], sep) {
			return i
		}
	}
	return -1
}

// injectingBody streams src through an Injector.
type injectingBody struct {
	src     io.ReadCloser
	inj     *Injector
	scratch []byte
	pending []byte
	eof     bool
}

// NewInjectingReader wraps src so that reads yield the document with payload
// inserted before </body>.
func NewInjectingReader(src io.ReadCloser, payload string) io.ReadCloser {
	return &injectingBody{
		src:     src,
		inj:     NewInjector(payload),
		scratch: make([]byte, 32*1024),
	}
}

func (b *injectingBody) Read(p []byte) (int, error) {
	for len(b.pending) == 0 {
		if b.eof {
			return 0, io.EOF
		}
		n, err := b.src.Read(b.scratch)
		if n > 0 {
			b.pending = b.inj.Feed(b.scratch[:n])
		}
		if err == io.EOF {
			if tail := b.inj.Finish(); len(tail) > 0 {
				b.pending = append(append([]byte(nil), b.pending...), tail...)
			}
			b.eof = true
		} else if err != nil {
			return 0, err
		}
	}

	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func (b *injectingBody) Close() error {
	return b.src.Close()
}

// ShouldInject determines if the payload should be injected based on content
// type. Latin-1 documents are skipped.
func ShouldInject(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") &&
		!strings.Contains(contentType, "charset=iso-8859-1")
}
