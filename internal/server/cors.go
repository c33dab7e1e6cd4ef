package server

import "net/http"

const (
	HeaderAllowOrigin  = "Access-Control-Allow-Origin"
	HeaderAllowMethods = "Access-Control-Allow-Methods"
	HeaderAllowHeaders = "Access-Control-Allow-Headers"
)

// CORSHeaders are attached to every response so that fonts and other assets
// load from any origin.
var CORSHeaders = http.Header{
	HeaderAllowOrigin:  {"*"},
	HeaderAllowMethods: {"GET, POST, OPTIONS"},
	HeaderAllowHeaders: {"*"},
}

func setCORS(h http.Header) {
	for k, v := range CORSHeaders {
		h[k] = append([]string(nil), v...)
	}
}

// WithCORS sets the CORS headers before next writes anything, so they survive
// error responses too. Preflight requests are answered directly.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w.Header())

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
