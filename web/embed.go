// Package web embeds the built frontend (dist/) and serves it as a
// single-page application. Paths that match no file fall back to
// index.html so client-side routing works on hard reloads.
//
// In development dist/ holds only a placeholder page; run the Vite dev
// server against the API instead.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler serves the embedded frontend with an index.html fallback.
func SPAHandler() http.Handler {
	dist, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: missing embedded dist: " + err.Error())
	}

	static := http.FileServer(http.FS(dist))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(r.URL.Path, "/")
		if name == "" {
			name = "index.html"
		}
		if _, err := fs.Stat(dist, name); err != nil {
			// Unknown path: let the SPA router handle it.
			r.URL.Path = "/"
		}
		static.ServeHTTP(w, r)
	})
}
