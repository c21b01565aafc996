package connection

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	assert.NoError(t, err)
	return u
}

func TestCookieStore_AddAndScope(t *testing.T) {
	s := NewCookieStore()
	s.Add(&Cookie{Name: "session-id", Value: "abc", Domain: ".amazon.com", Path: "/"})

	t.Run("matches the apex domain", func(t *testing.T) {
		got := s.ForURL(mustParse(t, "https://amazon.com/api/devices"))
		assert.Len(t, got, 1)
		assert.Equal(t, "abc", got[0].Value)
	})

	t.Run("matches subdomains", func(t *testing.T) {
		assert.Len(t, s.ForURL(mustParse(t, "https://alexa.amazon.com/api/bootstrap")), 1)
		assert.Len(t, s.ForURL(mustParse(t, "https://www.amazon.com/ap/signin")), 1)
	})

	t.Run("does not leak to unrelated hosts", func(t *testing.T) {
		assert.Empty(t, s.ForURL(mustParse(t, "https://example.org/")))
		// suffix match must respect label boundaries
		assert.Empty(t, s.ForURL(mustParse(t, "https://notamazon.com/")))
	})
}

func TestCookieStore_ReplaceSameDomainAndName(t *testing.T) {
	s := NewCookieStore()
	s.Add(&Cookie{Name: "csrf", Value: "one", Domain: ".amazon.com"})
	s.Add(&Cookie{Name: "csrf", Value: "two", Domain: ".amazon.com"})

	got := s.ForURL(mustParse(t, "https://alexa.amazon.com/"))
	assert.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Value)

	// same name on another domain is a distinct cookie
	s.Add(&Cookie{Name: "csrf", Value: "three", Domain: ".amazon.de"})
	assert.Equal(t, 2, s.Len())
}

func TestCookieStore_SecureOnlyOverHTTPS(t *testing.T) {
	s := NewCookieStore()
	s.Add(&Cookie{Name: "at-main", Value: "token", Domain: ".amazon.com", Secure: true})

	assert.Len(t, s.ForURL(mustParse(t, "https://www.amazon.com/")), 1)
	assert.Empty(t, s.ForURL(mustParse(t, "http://www.amazon.com/")))
}

func TestCookieStore_AddForURLDefaultsDomain(t *testing.T) {
	s := NewCookieStore()
	s.AddForURL(mustParse(t, "https://www.amazon.com/ap/signin"), &Cookie{Name: "frc", Value: "x"})

	got := s.Get(mustParse(t, "https://www.amazon.com/"), "frc")
	assert.NotNil(t, got)
	assert.Equal(t, "x", got.Value)
}

func TestCookieStore_ClearAndOrder(t *testing.T) {
	s := NewCookieStore()
	s.Add(&Cookie{Name: "a", Value: "1", Domain: ".amazon.com"})
	s.Add(&Cookie{Name: "b", Value: "2", Domain: ".amazon.com"})
	s.Add(&Cookie{Name: "c", Value: "3", Domain: ".amazon.com"})

	// insertion order is preserved so serialization stays stable
	all := s.All()
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Name, all[1].Name, all[2].Name})

	s.Clear()
	assert.Zero(t, s.Len())
}
