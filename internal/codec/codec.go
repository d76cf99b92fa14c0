// Package codec maps third-party hostnames onto single-label subdomains of the
// proxy domain and back.
//
// A hostname is encoded by doubling every dash and then turning every dot into
// a single dash:
//
//	www.example.com -> www-example-com
//	a--b.com        -> a----b-com
//
// Decoding reverses the two steps in the opposite order, so doubled dashes are
// never mistaken for dots.
//
// The mapping is only injective over DNS hostnames: every label non-empty and
// neither starting nor ending with a dash. "a.-b" and "a-.b" both encode to
// "a---b", so Subdomain rejects labels that decode to such hosts.
package codec

import (
	"errors"
	"net/url"
	"strings"
)

// ErrMalformedSubdomain is returned when a request host is not a single label
// directly under the proxy domain.
var ErrMalformedSubdomain = errors.New("invalid proxy URL format")

const placeholder = "\x00"

// EncodeHost converts a real hostname into its proxy subdomain label. The
// result only round-trips through DecodeHost when hostname is a valid DNS name.
func EncodeHost(hostname string) string {
	escaped := strings.ReplaceAll(hostname, "-", "--")
	return strings.ReplaceAll(escaped, ".", "-")
}

// DecodeHost converts a proxy subdomain label back into the real hostname.
func DecodeHost(subdomain string) string {
	protected := strings.ReplaceAll(subdomain, "--", placeholder)
	dotted := strings.ReplaceAll(protected, "-", ".")
	return strings.ReplaceAll(dotted, placeholder, "-")
}

// Codec converts full URLs between their real and proxied forms.
type Codec struct {
	// Domain is the proxy domain, e.g. "arewexblstill.com".
	Domain string
	// Scheme of proxied URLs. Defaults to https.
	Scheme string
}

// New returns a Codec for the given proxy domain.
func New(domain string) Codec {
	return Codec{Domain: strings.ToLower(strings.TrimPrefix(domain, "."))}
}

func (c Codec) scheme() string {
	if c.Scheme == "" {
		return "https"
	}
	return c.Scheme
}

// IsProxyHost reports whether host lives on the proxy domain.
func (c Codec) IsProxyHost(host string) bool {
	if c.Domain == "" {
		return false
	}
	host = strings.ToLower(stripPort(host))
	return host == c.Domain || strings.HasSuffix(host, "."+c.Domain)
}

// Subdomain extracts the single label in front of the proxy domain.
func (c Codec) Subdomain(host string) (string, error) {
	host = strings.ToLower(stripPort(host))
	suffix := "." + c.Domain
	if c.Domain == "" || !strings.HasSuffix(host, suffix) {
		return "", ErrMalformedSubdomain
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") || !validLabel(label) {
		return "", ErrMalformedSubdomain
	}
	if !ValidHost(DecodeHost(label)) {
		return "", ErrMalformedSubdomain
	}
	return label, nil
}

// ValidHost reports whether host is made of non-empty labels of letters,
// digits and dashes, none starting or ending with a dash.
func ValidHost(host string) bool {
	if host == "" {
		return false
	}
	for _, l := range strings.Split(host, ".") {
		if l == "" || l[0] == '-' || l[len(l)-1] == '-' || !validLabel(l) {
			return false
		}
	}
	return true
}

func validLabel(l string) bool {
	for i := 0; i < len(l); i++ {
		c := l[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}

// ToProxy rewrites an absolute http(s) URL into its proxied form. URLs that
// are already proxied, use another scheme or fail to parse are returned as-is.
func (c Codec) ToProxy(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return rawURL
	}
	if c.IsProxyHost(u.Host) {
		return rawURL
	}

	out := *u
	out.Scheme = c.scheme()
	out.Host = EncodeHost(u.Hostname()) + "." + c.Domain
	out.User = nil
	return out.String()
}

// FromProxy turns a proxied URL back into the real URL. Anything not on the
// proxy domain is returned unchanged.
func (c Codec) FromProxy(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	label, err := c.Subdomain(u.Host)
	if err != nil {
		return rawURL
	}

	out := *u
	out.Host = DecodeHost(label)
	return out.String()
}

// IsProxied reports whether rawURL points at a proxied subdomain.
func (c Codec) IsProxied(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	_, err = c.Subdomain(u.Host)
	return err == nil
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		return host
	}
	if i := strings.LastIndexByte(host, ':'); i != -1 {
		return host[:i]
	}
	return host
}
