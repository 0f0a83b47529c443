package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes are the handlers mounted by NewRouter.
type Routes struct {
	Gateway http.Handler
	Health  http.Handler
	// CORSOrigin is echoed on plain HTTP responses; "*" allows any origin.
	CORSOrigin string
}

func NewRouter(rt Routes) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", withCORS(rt.CORSOrigin, rt.Health))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", rt.Gateway)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}

func withCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allow := allowedOrigin(origin, r.Header.Get("Origin")); allow != "" {
			w.Header().Set("Access-Control-Allow-Origin", allow)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the Access-Control-Allow-Origin value for a request
// from reqOrigin, or "" when it is not allowed.
func allowedOrigin(configured, reqOrigin string) string {
	for _, o := range strings.Split(configured, ",") {
		o = strings.TrimSpace(o)
		switch {
		case o == "*":
			return "*"
		case o != "" && strings.EqualFold(o, reqOrigin):
			return reqOrigin
		}
	}
	return ""
}
