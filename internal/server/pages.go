package server

import (
	"fmt"
	"html"
	"net/http"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>%s</title>
    %s
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: %s; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <p>%s</p>
    </div>
</body>
</html>
`

type page struct {
	title   string
	refresh bool
	color   string
	heading string
	body    string
}

var (
	waitingPage = page{
		title:   "Waiting for Authorization",
		refresh: true,
		color:   "#333",
		heading: "Waiting for authorization…",
		body:    "Complete the login in the other tab. This page refreshes automatically.",
	}
	successPage = page{
		title:   "Authorization Successful",
		color:   "#1DB954",
		heading: "✓ Authorization Successful",
		body:    "You can close this window and return to the terminal.",
	}
)

func failurePage(reason string) page {
	return page{
		title:   "Authorization Failed",
		color:   "#E22134",
		heading: "✗ Authorization Failed",
		body:    "Error: " + html.EscapeString(reason),
	}
}

func renderPage(w http.ResponseWriter, status int, p page) {
	meta := ""
	if p.refresh {
		meta = `<meta http-equiv="refresh" content="2">`
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, pageTemplate, p.title, meta, p.color, p.heading, p.body)
}
