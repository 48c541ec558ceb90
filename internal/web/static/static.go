// Package static serves the embedded stylesheet and scripts of the web UI.
package static

import (
	"embed"
	"net/http"
)

//go:embed css/* js/*
var staticFS embed.FS

// Handler serves the embedded assets. Mount it under /static/.
func Handler() http.Handler {
	return http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
}
