package web

import (
	"errors"
	"net/http"
	"time"

	"cocalc-hub/internal/config"
)

const (
	CookieName        = "remember_me"
	DefaultSessionTTL = 30 * 24 * time.Hour
)

var ErrInsecureCookies = errors.New("web: session cookies require TLS; pass --https-key and --https-cert, or --behind-tls-proxy when a proxy terminates TLS")

// CookiePolicy decides how the session cookie is written.
type CookiePolicy struct {
	Name   string
	Path   string
	Secure bool
	TTL    time.Duration
}

// NewCookiePolicy refuses to build a policy that would send session
// cookies over plain HTTP.
func NewCookiePolicy(o config.Options) (CookiePolicy, error) {
	secure := o.TLS() || o.BehindTLSProxy
	if !secure {
		return CookiePolicy{}, ErrInsecureCookies
	}
	path := o.BasePath
	if path == "" {
		path = "/"
	}
	return CookiePolicy{Name: CookieName, Path: path, Secure: true, TTL: DefaultSessionTTL}, nil
}

func (p CookiePolicy) set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.Name,
		Value:    token,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   p.Secure,
		Path:     p.Path,
		MaxAge:   int(p.TTL / time.Second),
	})
}

func (p CookiePolicy) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.Name,
		Value:    "",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   p.Secure,
		Path:     p.Path,
		MaxAge:   -1,
	})
}
