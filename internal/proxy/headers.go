package proxy

import (
	"net/http"
	"strings"
)

// skippedRequestHeaders never reach the upstream. Any cf-* header is
// dropped as well.
var skippedRequestHeaders = map[string]bool{
	"X-Forwarded-For":   true,
	"X-Forwarded-Proto": true,
	"X-Forwarded-Host":  true,
	"X-Real-Ip":         true,
	"Forwarded":         true,
	"Via":               true,
}

// blockingResponseHeaders stop a document from being framed or read
// cross-origin and are removed from every response.
var blockingResponseHeaders = []string{
	"X-Frame-Options",
	"Content-Security-Policy",
	"X-Content-Type-Options",
	"X-Xss-Protection",
	"Referrer-Policy",
	"Permissions-Policy",
	"Cross-Origin-Embedder-Policy",
	"Cross-Origin-Opener-Policy",
	"Cross-Origin-Resource-Policy",
}

// exposableHeaders are listed in Access-Control-Expose-Headers when present.
var exposableHeaders = []string{
	"Content-Length",
	"Content-Type",
	"Content-Range",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
	"Content-Encoding",
	"Content-Language",
	"Cache-Control",
	"Expires",
	"Pragma",
}

const redirectExposeHeaders = "Location, x-redirect-status, x-redirect-location"

// filterRequestHeaders removes forwarding and identity headers in place and
// applies the user agent policy.
func filterRequestHeaders(h http.Header, userAgent, callerUA string) {
	for key := range h {
		canonical := http.CanonicalHeaderKey(key)
		if skippedRequestHeaders[canonical] || strings.HasPrefix(canonical, "Cf-") {
			h.Del(key)
		}
	}

	switch userAgent {
	case "forward":
		if callerUA != "" {
			h.Set("User-Agent", callerUA)
		}
	case "":
	default:
		h.Set("User-Agent", userAgent)
	}
}

// corsPolicy holds the permissive CORS values attached to responses.
type corsPolicy struct {
	Origin  string
	Methods string
	Headers string
}

// apply sets the CORS headers. expose, when non-empty, replaces the
// computed expose list.
func (c corsPolicy) apply(h http.Header, expose string) {
	h.Set("Access-Control-Allow-Origin", c.Origin)
	h.Set("Access-Control-Allow-Methods", c.Methods)
	h.Set("Access-Control-Allow-Headers", c.Headers)
	h.Set("Access-Control-Allow-Credentials", "true")

	if expose == "" {
		var present []string
		for _, name := range exposableHeaders {
			if h.Get(name) != "" {
				present = append(present, name)
			}
		}
		expose = strings.Join(present, ", ")
	}
	if expose != "" {
		h.Set("Access-Control-Expose-Headers", expose)
	} else {
		h.Del("Access-Control-Expose-Headers")
	}
}

// preflight writes the answer to an OPTIONS request.
func (c corsPolicy) preflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", c.Origin)
	h.Set("Access-Control-Allow-Methods", c.Methods)
	h.Set("Access-Control-Max-Age", "86400")
	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	} else {
		h.Set("Access-Control-Allow-Headers", c.Headers)
	}
	w.WriteHeader(http.StatusNoContent)
}

func stripBlockingHeaders(h http.Header) {
	for _, name := range blockingResponseHeaders {
		h.Del(name)
	}
}
