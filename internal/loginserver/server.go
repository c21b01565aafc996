package loginserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/common/config"
	"github.com/echobridge/alexaremote/internal/connection"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is a local reverse proxy for the interactive sign-in flow. It
// serves the provider's login page on /, forwards every /ap/* form
// submission upstream with the session's cookies and identity headers, and
// completes app registration once the flow redirects to the landing page.
type Server struct {
	logger *zap.Logger
	conn   *connection.Connection
	router *gin.Engine
	srv    *http.Server
	client *http.Client

	addr string
	// origin is the upstream base URL, overridable in tests
	origin string

	// onLogin runs after a successful registration, e.g. to persist the
	// session blob
	onLogin func(*connection.Connection)
}

func New(logger *zap.Logger, conn *connection.Connection, cfg config.LoginConfig, onLogin func(*connection.Connection)) *Server {
	s := &Server{
		logger:  logger.Named("loginserver"),
		conn:    conn,
		router:  gin.New(),
		addr:    cfg.Addr,
		origin:  cnst.AuthOrigin,
		onLogin: onLogin,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	s.router.Use(gin.Recovery())
	s.router.GET("/", s.handleRoot)
	s.router.Any("/ap/*path", s.handleProxy)
	return s
}

// Start blocks serving the login flow until the context is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("login server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleRoot starts a fresh login and serves the sign-in page with its
// absolute upstream links rewritten to point back at this proxy.
func (s *Server) handleRoot(c *gin.Context) {
	page, err := s.conn.StartLogin(c.Request.Context())
	if err != nil {
		s.logger.Error("starting login failed", zap.Error(err))
		c.String(http.StatusBadGateway, "fetching the sign-in page failed: %v", err)
		return
	}
	c.Header("Content-Type", "text/html;charset=UTF-8")
	c.String(http.StatusOK, s.rewrite(page))
}

// handleProxy forwards one sign-in form submission upstream and relays the
// answer. Cookies the upstream sets are captured into the session store so
// registration sees the full authenticated cookie set.
func (s *Server) handleProxy(c *gin.Context) {
	upstream := s.origin + c.Request.URL.RequestURI()

	var body io.Reader
	if c.Request.Body != nil {
		body = c.Request.Body
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstream, body)
	if err != nil {
		c.String(http.StatusBadGateway, "building upstream request failed: %v", err)
		return
	}
	req.Header.Set("User-Agent", cnst.UserAgent)
	req.Header.Set("Accept-Language", "en-US")
	if contentType := c.ContentType(); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, cookie := range s.conn.SessionCookies(s.origin) {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("upstream request failed", zap.String("url", upstream), zap.Error(err))
		c.String(http.StatusBadGateway, "upstream request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	s.captureCookies(resp)

	if location := resp.Header.Get("Location"); location != "" {
		if strings.Contains(location, "/ap/maplanding") {
			s.finishLogin(c, location)
			return
		}
		c.Redirect(http.StatusFound, s.rewrite(location))
		return
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.String(http.StatusBadGateway, "reading upstream response failed: %v", err)
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		c.Data(resp.StatusCode, contentType, []byte(s.rewrite(string(payload))))
		return
	}
	c.Data(resp.StatusCode, contentType, payload)
}

// finishLogin exchanges the oauth redirect for a registered session.
func (s *Server) finishLogin(c *gin.Context, redirectURL string) {
	deviceName, err := s.conn.CompleteRegistration(c.Request.Context(), redirectURL)
	if err != nil {
		s.logger.Error("registration failed", zap.Error(err))
		c.String(http.StatusBadGateway, "registration failed: %v", err)
		return
	}
	s.logger.Info("login complete",
		zap.String("device", deviceName),
		zap.String("site", s.conn.AmazonSite()))
	if s.onLogin != nil {
		s.onLogin(s.conn)
	}
	c.Header("Content-Type", "text/html;charset=UTF-8")
	c.String(http.StatusOK,
		"<html><body><h1>Login successful</h1><p>Connected as %s on %s. You can close this window.</p></body></html>",
		s.conn.CustomerName(), s.conn.AmazonSite())
}

// captureCookies stores every cookie the upstream set into the session's
// cookie store.
func (s *Server) captureCookies(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		s.conn.AddSessionCookie(s.origin, &connection.Cookie{
			Name:   cookie.Name,
			Value:  cookie.Value,
			Domain: cookie.Domain,
			Path:   cookie.Path,
			Secure: cookie.Secure,
		})
	}
}

// rewrite points absolute upstream links back at this proxy.
func (s *Server) rewrite(content string) string {
	return strings.ReplaceAll(content, s.origin, "")
}
