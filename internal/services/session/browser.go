// Package session owns the credential lifecycle: capture from the login
// flow, periodic validation, and expiry detection.
package session

import (
	"context"
	"net/url"
	"strings"
)

// NavigationEvent is a single navigation observed in the hosted login
// window. Only the destination URL is consumed.
type NavigationEvent struct {
	URL string
}

// BrowserSession is the externally hosted login surface. The embedded
// window itself is out of scope; this is the event stream and cookie
// access it exposes.
type BrowserSession interface {
	// Navigations streams navigation events until the window closes.
	Navigations() <-chan NavigationEvent

	// Cookie returns the value of the named cookie for the domain, or
	// an empty string if not set.
	Cookie(ctx context.Context, domain, name string) (string, error)

	// ClearCookies removes all stored cookies for the domain.
	ClearCookies(ctx context.Context, domain string) error

	// Done is closed when the hosting window is closed.
	Done() <-chan struct{}
}

const (
	cookieName        = "sessionKey"
	cookieValuePrefix = "sk-ant-"
)

// successPathPrefixes are post-login destinations on the auth domain.
var successPathPrefixes = []string{
	"/new",
	"/chat",
	"/chats",
	"/project",
	"/recents",
	"/settings",
}

// loginPathPrefixes are paths that belong to the login flow itself and
// never count as a post-login destination.
var loginPathPrefixes = []string{
	"/login",
	"/oauth",
	"/auth",
	"/magic-link",
}

// isPostLoginURL reports whether the navigation target indicates that
// login completed: trusted host, allow-listed destination path, and not
// itself part of the login flow.
func isPostLoginURL(rawURL, authDomain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host != authDomain && !strings.HasSuffix(host, "."+authDomain) {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, p := range loginPathPrefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}

	if path == "/" {
		return true
	}
	for _, p := range successPathPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
