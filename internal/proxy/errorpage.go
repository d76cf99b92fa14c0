package proxy

import (
	"bytes"
	"html/template"
	"net/http"
)

var errorPageTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Proxy Error</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .error { background-color: #f8d7da; color: #721c24; padding: 20px; border-radius: 5px; }
        .details { margin-top: 20px; font-size: 14px; color: #666; }
        code { background: #f8f9fa; padding: 2px 4px; border-radius: 3px; }
    </style>
</head>
<body>
    <div class="error">
        <h1>Error {{.Status}}: {{.StatusText}}</h1>
        <p>The requested resource could not be loaded.</p>
    </div>
    <div class="details">
        <p><strong>Target URL:</strong> <code>{{.TargetURL}}</code></p>
        <p><strong>Status:</strong> {{.Status}} {{.StatusText}}</p>
    </div>
</body>
</html>
`))

type errorPage struct {
	Status     int
	StatusText string
	TargetURL  string
}

// renderErrorPage builds the branded page shown for upstream statuses >= 400.
func renderErrorPage(status int, targetURL string) []byte {
	var buf bytes.Buffer
	_ = errorPageTmpl.Execute(&buf, errorPage{
		Status:     status,
		StatusText: http.StatusText(status),
		TargetURL:  targetURL,
	})
	return buf.Bytes()
}
