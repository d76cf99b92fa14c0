// Package scripts embeds the control script injected into proxied pages.
package scripts

import (
	_ "embed"
	"encoding/json"
	"strings"
	"sync"
)

// Name is the file name the script is served under on the script subdomain.
const Name = "proxy-tunnel.js"

//go:embed proxy-tunnel.js
var tunnelJS string

var (
	inlineTag     string
	inlineTagOnce sync.Once
)

// TunnelJS returns the raw control script.
func TunnelJS() string {
	return tunnelJS
}

// Config is published to the script as window.PROXY_TUNNEL_CONFIG.
type Config struct {
	ProxyDomain    string   `json:"PROXY_DOMAIN"`
	TargetOrigin   string   `json:"TARGET_ORIGIN"`
	AllowedOrigins []string `json:"ALLOWED_ORIGINS"`
}

// Payload returns the markup injected before </body>: a config block
// followed by the inlined control script.
func Payload(cfg Config) string {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	// json.Marshal escapes <, > and & so the config cannot close the tag.
	data, err := json.Marshal(cfg)
	if err != nil {
		data = []byte("{}")
	}

	var sb strings.Builder
	sb.WriteString(`<script data-proxy-tunnel="config">window.PROXY_TUNNEL_CONFIG=`)
	sb.Write(data)
	sb.WriteString(";</script>")
	sb.WriteString(scriptTag())
	return sb.String()
}

func scriptTag() string {
	inlineTagOnce.Do(func() {
		inlineTag = `<script data-proxy-tunnel="true">` + "\n" + strings.TrimSpace(tunnelJS) + "\n</script>"
	})
	return inlineTag
}
