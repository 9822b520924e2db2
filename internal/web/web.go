// Package web embeds the static signup page.
package web

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"time"
)

//go:embed static
var content embed.FS

const indexFile = "index.html"

// Handler serves the embedded files under the /static/ prefix.
// /static/index.html is answered directly; http.FileServer would
// redirect it to /static/.
func Handler() http.Handler {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		panic(err)
	}
	index, err := fs.ReadFile(sub, indexFile)
	if err != nil {
		panic(err)
	}
	files := http.StripPrefix("/static/", http.FileServerFS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/static/"+indexFile {
			files.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeContent(w, r, indexFile, time.Time{}, bytes.NewReader(index))
	})
}
