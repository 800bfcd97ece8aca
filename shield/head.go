package shield

import "net/http"

// HeadToGet rewrites HEAD to GET so routes registered with r.Get() answer
// probes with 200 instead of 405. net/http drops the body for HEAD itself.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
