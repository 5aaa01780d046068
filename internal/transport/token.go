package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// ErrNoToken is returned when a provider has no anti-forgery token to offer.
var ErrNoToken = errors.New("anti-forgery token not available")

// TokenProvider supplies the anti-forgery token attached to state-changing
// requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// CookieToken reads the token cookie that the grades server set in a jar.
type CookieToken struct {
	Jar  http.CookieJar
	URL  *url.URL
	Name string
}

func (t CookieToken) Token(context.Context) (string, error) {
	if t.Jar == nil || t.URL == nil {
		return "", ErrNoToken
	}
	for _, c := range t.Jar.Cookies(t.URL) {
		if c.Name == t.Name && c.Value != "" {
			return unescape(c.Value), nil
		}
	}
	return "", fmt.Errorf("cookie %q: %w", t.Name, ErrNoToken)
}

// NewSessionJar returns a cookie jar holding the page's cookies for the
// grades server, so forwarded requests carry the same session and token
// cookie the browser would have sent.
func NewSessionJar(base *url.URL, cookies []*http.Cookie) (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	forwarded := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		forwarded = append(forwarded, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	jar.SetCookies(base, forwarded)
	return jar, nil
}

func unescape(v string) string {
	if u, err := url.QueryUnescape(v); err == nil {
		return u
	}
	return v
}
