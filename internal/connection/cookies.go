package connection

import (
	"net/url"
	"strings"
	"sync"
)

// Cookie is one session cookie. The field set mirrors what the serialized
// session blob stores; the engine itself only cares about name, value,
// domain, path and the secure flag.
type Cookie struct {
	Name       string
	Value      string
	Comment    string
	CommentURL string
	Domain     string
	Path       string
	Portlist   string
	MaxAge     int64
	Version    int
	Secure     bool
	Discard    bool
}

// CookieStore holds session cookies keyed by (domain, name). It is written
// only by the session layer (token exchange, login seeding, restore) and
// read by the request dispatcher scoped to a target URI.
type CookieStore struct {
	mu      sync.RWMutex
	cookies []*Cookie
}

// NewCookieStore creates an empty store.
func NewCookieStore() *CookieStore {
	return &CookieStore{}
}

// Add inserts a cookie, replacing an existing one with the same domain and
// name. Insertion order is preserved so the Cookie header stays stable.
func (s *CookieStore) Add(c *Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.cookies {
		if existing.Name == c.Name && equalDomain(existing.Domain, c.Domain) {
			s.cookies[i] = c
			return
		}
	}
	s.cookies = append(s.cookies, c)
}

// AddForURL inserts a cookie scoped to the URL's host when the cookie
// carries no domain of its own.
func (s *CookieStore) AddForURL(u *url.URL, c *Cookie) {
	if c.Domain == "" {
		c.Domain = u.Hostname()
	}
	s.Add(c)
}

// ForURL returns the cookies applicable to the given URI, honoring domain
// scoping and the secure flag.
func (s *CookieStore) ForURL(u *url.URL) []*Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()

	host := strings.ToLower(u.Hostname())
	secure := u.Scheme == "https"

	var out []*Cookie
	for _, c := range s.cookies {
		if c.Secure && !secure {
			continue
		}
		if domainMatches(c.Domain, host) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the cookie with the given name applicable to the URI, or nil.
func (s *CookieStore) Get(u *url.URL, name string) *Cookie {
	for _, c := range s.ForURL(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every stored cookie in insertion order.
func (s *CookieStore) All() []*Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// Len returns the number of stored cookies.
func (s *CookieStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies)
}

// Clear removes every cookie.
func (s *CookieStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = nil
}

// domainMatches implements cookie domain scoping: a domain of ".amazon.com"
// (or "amazon.com") matches the host itself and any subdomain.
func domainMatches(domain, host string) bool {
	d := strings.ToLower(strings.TrimPrefix(domain, "."))
	if d == "" {
		return false
	}
	return host == d || strings.HasSuffix(host, "."+d)
}

func equalDomain(a, b string) bool {
	return strings.ToLower(strings.TrimPrefix(a, ".")) == strings.ToLower(strings.TrimPrefix(b, "."))
}
