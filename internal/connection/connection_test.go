package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/common/config"
	"github.com/stretchr/testify/assert"
)

// fastConnection builds a connection with test-friendly timings, pointed at
// the given server for both regional hosts.
func fastConnection(srv *httptest.Server) *Connection {
	c := New(nil, &config.ClientConfig{RequestSpacing: time.Millisecond}, nil, nil)
	c.mu.Lock()
	c.alexaServer = srv.URL
	c.wwwServer = srv.URL
	c.mu.Unlock()
	return c
}

func authenticatedBootstrap(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"authentication": map[string]any{
			"authenticated": true,
			"customerId":    "A1BOOT",
			"customerName":  "Jane",
		},
	})
}

func TestSetAmazonSite(t *testing.T) {
	for _, tc := range []struct {
		in, site string
	}{
		{"amazon.de", "amazon.de"},
		{"https://www.amazon.de", "amazon.de"},
		{"http://alexa.amazon.co.uk", "amazon.co.uk"},
		{"www.amazon.com", "amazon.com"},
		{"", "amazon.com"},
	} {
		c := New(nil, &config.ClientConfig{AmazonSite: tc.in}, nil, nil)
		assert.Equal(t, tc.site, c.AmazonSite(), "input %q", tc.in)
		assert.Equal(t, "https://alexa."+tc.site, c.AlexaServer())
	}
}

func TestVerifyLogin(t *testing.T) {
	t.Run("false without a refresh token", func(t *testing.T) {
		c := New(nil, nil, nil, nil)
		ok, err := c.VerifyLogin(context.Background())
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("records identity when authenticated", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/bootstrap", r.URL.Path)
			authenticatedBootstrap(w)
		}))
		defer srv.Close()

		c := fastConnection(srv)
		c.mu.Lock()
		c.refreshToken = "Atnr|x"
		c.mu.Unlock()

		ok, err := c.VerifyLogin(context.Background())
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Jane", c.CustomerName())
		assert.Equal(t, "A1BOOT", c.CustomerID())
		assert.False(t, c.LoginTime().IsZero())
		assert.False(t, c.VerifyTime().IsZero())
	})

	t.Run("false when the bootstrap answers with a login page", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>sign in</html>"))
		}))
		defer srv.Close()

		c := fastConnection(srv)
		c.mu.Lock()
		c.refreshToken = "Atnr|x"
		c.mu.Unlock()

		ok, err := c.VerifyLogin(context.Background())
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestExchangeToken(t *testing.T) {
	var gotCookieHeader atomic.Value
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/ap/exchangetoken", func(w http.ResponseWriter, r *http.Request) {
		gotCookieHeader.Store(r.Header.Get("Cookie"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, ".amazon.com", r.PostForm.Get("domain"))
		assert.Equal(t, "Atnr|refresh", r.PostForm.Get("source_token"))
		assert.Equal(t, "auth_cookies", r.PostForm.Get("requested_token_type"))
		assert.Equal(t, "refresh_token", r.PostForm.Get("source_token_type"))
		assert.NotEmpty(t, r.PostForm.Get("cookies"))

		secure := true
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"tokens": map[string]any{
					"cookies": map[string]any{
						".amazon.com": []map[string]any{
							{"Name": "at-main", "Value": "tok", "Path": "/", "Secure": secure},
							{"Name": "sess-id", "Value": "s"},
						},
					},
				},
			},
		})
	})
	mux.HandleFunc("/api/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		authenticatedBootstrap(w)
	})

	c := fastConnection(srv)
	c.mu.Lock()
	c.refreshToken = "Atnr|refresh"
	c.mu.Unlock()

	assert.NoError(t, c.exchangeToken(context.Background()))

	// the exchange call must not present existing session cookies
	assert.Equal(t, "", gotCookieHeader.Load())

	// cookies are stored under the server-supplied domain key
	all := c.cookies.All()
	assert.Len(t, all, 2)
	assert.Equal(t, ".amazon.com", all[0].Domain)
	assert.Equal(t, int64(-1), all[0].MaxAge)
	assert.True(t, all[0].Secure)
	assert.False(t, all[1].Secure)

	// the renewal deadline is the validity window divided by the factor
	c.mu.Lock()
	renewTime := c.renewTime
	c.mu.Unlock()
	expected := time.Now().Add(time.Duration(float64(cnst.TokenValidity) / cnst.RenewFactor))
	assert.WithinDuration(t, expected, renewTime, time.Minute)
}

func TestExchangeToken_FailureLeavesRenewalDue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastConnection(srv)
	c.mu.Lock()
	c.refreshToken = "Atnr|refresh"
	c.renewTime = time.Now().Add(time.Hour)
	c.mu.Unlock()

	assert.Error(t, c.exchangeToken(context.Background()))
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.True(t, c.renewTime.IsZero())
}

func TestCheckRenewSession(t *testing.T) {
	t.Run("not due is a no-op", func(t *testing.T) {
		c := New(nil, nil, nil, nil)
		c.mu.Lock()
		c.refreshToken = "Atnr|x"
		c.renewTime = time.Now().Add(time.Hour)
		c.mu.Unlock()

		renewed, err := c.CheckRenewSession(context.Background())
		assert.NoError(t, err)
		assert.False(t, renewed)
	})

	t.Run("without a token the renewal fails", func(t *testing.T) {
		c := New(nil, nil, nil, nil)
		_, err := c.CheckRenewSession(context.Background())
		assert.ErrorIs(t, err, ErrNotLoggedIn)
	})

	t.Run("due renewal refreshes and re-exchanges", func(t *testing.T) {
		var tokenCalls, exchangeCalls int32
		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		defer srv.Close()
		mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&tokenCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "Atna|a", "expires_in": "3600"})
		})
		mux.HandleFunc("/ap/exchangetoken", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&exchangeCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{"response": map[string]any{"tokens": map[string]any{"cookies": map[string]any{}}}})
		})
		mux.HandleFunc("/api/bootstrap", func(w http.ResponseWriter, r *http.Request) {
			authenticatedBootstrap(w)
		})

		c := fastConnection(srv)
		c.mu.Lock()
		c.refreshToken = "Atnr|x"
		c.apiOrigin = srv.URL
		c.mu.Unlock()

		renewed, err := c.CheckRenewSession(context.Background())
		assert.NoError(t, err)
		assert.True(t, renewed)
		assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
		assert.Equal(t, int32(1), atomic.LoadInt32(&exchangeCalls))
	})
}

func TestCompleteRegistration_RedirectValidation(t *testing.T) {
	c := New(nil, nil, nil, nil)

	t.Run("unparsable url", func(t *testing.T) {
		_, err := c.CompleteRegistration(context.Background(), "://nope")
		var regErr *RegistrationError
		assert.ErrorAs(t, err, &regErr)
	})

	t.Run("missing access token", func(t *testing.T) {
		_, err := c.CompleteRegistration(context.Background(), "https://www.amazon.com/ap/maplanding?openid.oa2.scope=device_auth_access")
		var regErr *RegistrationError
		assert.ErrorAs(t, err, &regErr)
	})
}

func TestLogout(t *testing.T) {
	c := loggedInConnection(t)
	c.Speak(testDevice("S1"), "pending", nil, nil)

	c.Logout()

	assert.False(t, c.IsLoggedIn())
	assert.Zero(t, c.cookies.Len())
	assert.Equal(t, "Unknown", c.CustomerID())
	assert.True(t, c.Idle())
	assert.Empty(t, c.Serialize())
}

func TestStartLogin_SeedsIdentityCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ap/signin", r.URL.Path)
		query := r.URL.Query()
		assert.Contains(t, query.Get("openid.oa2.client_id"), "device:")
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer srv.Close()

	c := fastConnection(srv)
	c.mu.Lock()
	c.authOrigin = srv.URL
	c.mu.Unlock()

	page, err := c.StartLogin(context.Background())
	assert.NoError(t, err)
	assert.Contains(t, page, "login")

	// the anti-fraud cookies are seeded before the page fetch
	u := srv.URL
	assert.NotNil(t, c.SessionCookies(u))
	names := map[string]bool{}
	for _, cookie := range c.SessionCookies(u) {
		names[cookie.Name] = true
	}
	assert.True(t, names["map-md"])
	assert.True(t, names["frc"])
}
