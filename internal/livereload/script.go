package livereload

import (
	_ "embed"
	"net/http"
)

//go:embed livereload.js
var script []byte

// ScriptHandler serves the page-side client. Pages opt in with
// <script src="/__livereload.js"></script>.
func ScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(script)
	})
}
