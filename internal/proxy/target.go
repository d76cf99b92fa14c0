package proxy

import (
	"context"
	"net/url"

	"github.com/standardbeagle/tabgate/internal/codec"
)

// Target is the upstream resolved from a request hostname. It is recomputed
// for every request.
type Target struct {
	// Label is the subdomain label in front of the proxy domain.
	Label string
	// Host is the decoded upstream hostname.
	Host string
	// URL is the full upstream URL including path and query.
	URL *url.URL
}

// Origin returns scheme://host of the target.
func (t *Target) Origin() string {
	return t.URL.Scheme + "://" + t.URL.Host
}

// ResolveTarget maps a request host and URL onto the upstream target.
func ResolveTarget(c codec.Codec, host string, reqURL *url.URL, scheme string) (*Target, error) {
	label, err := c.Subdomain(host)
	if err != nil {
		return nil, err
	}
	decoded := codec.DecodeHost(label)

	u := &url.URL{
		Scheme:   scheme,
		Host:     decoded,
		Path:     reqURL.Path,
		RawPath:  reqURL.RawPath,
		RawQuery: reqURL.RawQuery,
	}
	return &Target{Label: label, Host: decoded, URL: u}, nil
}

// requestState travels with a request through the reverse proxy.
type requestState struct {
	target  *Target
	outcome string
}

type stateKey struct{}

func withState(ctx context.Context, st *requestState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(stateKey{}).(*requestState)
	return st
}
