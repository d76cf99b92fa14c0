package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// DebugInfo is the JSON echo returned on the debug path.
type DebugInfo struct {
	OriginalURL  string            `json:"originalUrl"`
	TargetURL    string            `json:"targetUrl"`
	TargetDomain string            `json:"targetDomain"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Pathname     string            `json:"pathname"`
	Search       string            `json:"search"`
	Timestamp    string            `json:"timestamp"`
}

func (ps *ProxyServer) serveDebug(w http.ResponseWriter, r *http.Request, t *Target) {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	search := ""
	if r.URL.RawQuery != "" {
		search = "?" + r.URL.RawQuery
	}

	info := DebugInfo{
		OriginalURL:  requestURL(r),
		TargetURL:    t.URL.String(),
		TargetDomain: t.Host,
		Method:       r.Method,
		Headers:      headers,
		Pathname:     r.URL.Path,
		Search:       search,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}

	data, _ := json.MarshalIndent(info, "", "  ")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", ps.cors.Origin)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// requestURL reconstructs the absolute URL the client asked for.
func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") == "http" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
