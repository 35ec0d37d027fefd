package web

import (
	"net"
	"net/http"

	"cocalc-hub/internal/config"
)

// NeedsRedirect reports whether a plain HTTP listener on :80 should send
// clients to HTTPS: only when TLS is configured and the hub is on 443.
func NeedsRedirect(o config.Options, port int) bool {
	return o.TLS() && port == 443
}

func RedirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}
