package shield

import "net/http"

// DefaultMaxBody is large enough for any control request.
const DefaultMaxBody = 64 * 1024

// MaxBody returns middleware that caps the request body at maxBytes.
// Reads past the cap fail and the handler answers 400.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
