// Package connection implements the session and command orchestration
// engine for the unofficial Alexa web API: the authentication state machine,
// the single-flight request dispatcher and the debounced command batching
// queues.
package connection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/common/config"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/echobridge/alexaremote/pkg/metrics"
	"go.uber.org/zap"
)

// Connection is a stateful client for the Alexa web API. It impersonates
// the mobile app, maintains the evolving session (refresh token + cookies)
// and dispatches device commands through a strictly sequential request
// pipeline. All methods are safe for concurrent use.
type Connection struct {
	logger     *zap.Logger
	cookies    *CookieStore
	dispatcher *dispatcher
	metrics    *metrics.Metrics

	identity DeviceIdentity

	mu           sync.Mutex
	amazonSite   string
	alexaServer  string
	wwwServer    string
	refreshToken string
	loginTime    time.Time
	verifyTime   time.Time
	renewTime    time.Time // zero means renewal due immediately
	deviceName   string
	customerID   string
	customerName string

	// origins overridable in tests
	apiOrigin  string
	authOrigin string

	announcements *speechQueue
	speeches      *speechQueue
	sequences     *sequenceQueue

	badRequestRetry int
}

// New creates a connection. A previous connection may be passed to carry
// over the device identity triple; a nil config uses defaults.
func New(prev *Connection, cfg *config.ClientConfig, logger *zap.Logger, m *metrics.Metrics) *Connection {
	if cfg == nil {
		cfg = &config.ClientConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var identity DeviceIdentity
	if prev != nil {
		identity = prev.identity
	}
	identity = identity.Complete()

	site := cfg.AmazonSite
	if site == "" {
		site = cnst.DefaultAmazonSite
	}
	spacing := cfg.RequestSpacing
	if spacing <= 0 {
		spacing = cnst.RequestSpacing
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	debounce := cfg.BatchDebounce
	if debounce <= 0 {
		debounce = cnst.BatchDebounce
	}
	retry := cfg.BadRequestRetry
	if retry <= 0 {
		retry = cnst.BehaviorsRetryCount
	}

	cookies := NewCookieStore()
	c := &Connection{
		logger:          logger.Named("connection"),
		cookies:         cookies,
		dispatcher:      newDispatcher(cookies, spacing, timeout, logger, m),
		metrics:         m,
		identity:        identity,
		apiOrigin:       cnst.APIOrigin,
		authOrigin:      cnst.AuthOrigin,
		badRequestRetry: retry,
	}
	c.setAmazonSite(site)

	c.announcements = newSpeechQueue("announcement", debounce, cnst.SpeechCooldown, logger, m, c.sendAnnouncementBatch)
	c.speeches = newSpeechQueue("tts", debounce, cnst.SpeechCooldown, logger, m, c.sendSpeechBatch)
	c.sequences = newSequenceQueue(logger, m, c.submitSequenceNode)
	return c
}

// setAmazonSite normalizes and switches the active regional domain.
// Callers hold c.mu or have exclusive access.
func (c *Connection) setAmazonSite(site string) {
	if site == "" {
		site = cnst.DefaultAmazonSite
	}
	lower := strings.ToLower(site)
	for _, prefix := range []string{"http://", "https://", "www.", "alexa."} {
		if strings.HasPrefix(lower, prefix) {
			site = site[len(prefix):]
			lower = lower[len(prefix):]
		}
	}
	c.amazonSite = site
	c.alexaServer = "https://alexa." + site
	c.wwwServer = "https://www." + site
}

// Identity returns the device identity triple.
func (c *Connection) Identity() DeviceIdentity { return c.identity }

// AmazonSite returns the active regional site, e.g. "amazon.de".
func (c *Connection) AmazonSite() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amazonSite
}

// AlexaServer returns the active regional API origin.
func (c *Connection) AlexaServer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alexaServer
}

// DeviceName returns the app registration name, or "Unknown".
func (c *Connection) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceName == "" {
		return "Unknown"
	}
	return c.deviceName
}

// CustomerID returns the account customer id, or "Unknown".
func (c *Connection) CustomerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.customerID == "" {
		return "Unknown"
	}
	return c.customerID
}

// CustomerName returns the account display name, or "Unknown".
func (c *Connection) CustomerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.customerName == "" {
		return "Unknown"
	}
	return c.customerName
}

// LoginTime returns when the session was established, zero if logged out.
func (c *Connection) LoginTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginTime
}

// VerifyTime returns the last successful bootstrap verification time.
func (c *Connection) VerifyTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyTime
}

// IsLoggedIn reports whether a refresh token is present. This is the coarse
// check only; genuine validity requires VerifyLogin.
func (c *Connection) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken != ""
}

// Idle reports whether no outbound work is queued or in flight anywhere:
// the dispatcher and all three command queues are empty.
func (c *Connection) Idle() bool {
	return c.dispatcher.idle() && c.announcements.idle() && c.speeches.idle() && c.sequences.idle()
}

// SessionCookies returns the cookies currently applicable to the regional
// server, for callers that drive the interactive login flow.
func (c *Connection) SessionCookies(server string) []*Cookie {
	u, err := url.Parse(server)
	if err != nil {
		return nil
	}
	return c.cookies.ForURL(u)
}

// AddSessionCookie inserts a cookie harvested during the interactive login.
func (c *Connection) AddSessionCookie(server string, cookie *Cookie) {
	u, err := url.Parse(server)
	if err != nil {
		return
	}
	c.cookies.AddForURL(u, cookie)
}

// StartLogin clears the session and fetches the provider sign-in page with
// the device id embedded in the query. The returned HTML is handed to the
// interactive login flow, which later calls CompleteRegistration with the
// oauth redirect URL.
func (c *Connection) StartLogin(ctx context.Context) (string, error) {
	c.Logout()

	c.mu.Lock()
	alexaServer := c.alexaServer
	authOrigin := c.authOrigin
	c.mu.Unlock()
	c.logger.Debug("start login", zap.String("server", alexaServer))

	mapMDJSON := `{"device_user_dictionary":[],"device_registration_data":{"software_version":"1"},"app_identifier":{"app_version":"` +
		cnst.AppVersionShort + `","bundle_id":"` + cnst.AppBundleID + `"}}`
	origin, err := url.Parse(authOrigin)
	if err != nil {
		return "", &SessionError{Op: "start login", Err: err}
	}
	c.cookies.AddForURL(origin, &Cookie{Name: "map-md", Value: base64.StdEncoding.EncodeToString([]byte(mapMDJSON))})
	c.cookies.AddForURL(origin, &Cookie{Name: "frc", Value: c.identity.FRC})

	signin := authOrigin + "/ap/signin?openid.return_to=" + authOrigin + "/ap/maplanding" +
		"&openid.assoc_handle=amzn_dp_project_dee_ios" +
		"&openid.identity=http://specs.openid.net/auth/2.0/identifier_select" +
		"&pageId=amzn_dp_project_dee_ios&accountStatusPolicy=P1" +
		"&openid.claimed_id=http://specs.openid.net/auth/2.0/identifier_select" +
		"&openid.mode=checkid_setup&openid.ns.oa2=http://www.amazon.com/ap/ext/oauth/2" +
		"&openid.oa2.client_id=device:" + c.identity.DeviceID +
		"&openid.ns.pape=http://specs.openid.net/extensions/pape/1.0" +
		"&openid.oa2.response_type=token&openid.ns=http://specs.openid.net/auth/2.0" +
		"&openid.pape.max_auth_age=0&openid.oa2.scope=device_auth_access"

	headers := map[string]string{"authority": "www.amazon.com"}
	body, err := c.requestString(ctx, "GET", signin, nil, false, headers)
	if err != nil {
		return "", &SessionError{Op: "fetching login page", Err: err}
	}
	return body, nil
}

// CompleteRegistration parses the access token out of the oauth redirect
// URL, registers this client as an app and runs the post-registration
// sequence: token exchange, regional domain discovery, re-exchange against
// the owner domain and verification. Any failure after the refresh token
// was obtained forces a logout so no partial-authenticated state remains.
func (c *Connection) CompleteRegistration(ctx context.Context, oauthRedirectURL string) (string, error) {
	redirect, err := url.Parse(oauthRedirectURL)
	if err != nil {
		return "", &RegistrationError{Reason: "invalid redirect url: " + err.Error()}
	}
	accessToken := redirect.Query().Get("openid.oa2.access_token")
	if accessToken == "" {
		return "", &RegistrationError{Reason: "redirect url carries no access token"}
	}

	var webSiteCookies []jsons.WebSiteCookie
	for _, cookie := range c.SessionCookies(c.authOrigin) {
		webSiteCookies = append(webSiteCookies, jsons.WebSiteCookie{Name: cookie.Name, Value: cookie.Value})
	}

	request := jsons.RegisterAppRequest{
		RequestedExtensions: []string{"device_info", "customer_info"},
		Cookies:             jsons.RegisterCookies{WebsiteCookies: webSiteCookies, Domain: ".amazon.com"},
		RegistrationData: jsons.RegistrationData{
			Domain:          "Device",
			AppVersion:      cnst.AppVersion,
			DeviceType:      "A2IVLV5VM2W81",
			DeviceName:      "%FIRST_NAME%'s%DUPE_STRATEGY_1ST%alexaremote",
			OSVersion:       cnst.OSVersion,
			DeviceSerial:    c.identity.Serial,
			DeviceModel:     cnst.HardwareVersion,
			AppName:         "alexaremote",
			SoftwareVersion: "1",
		},
		AuthData:           jsons.AuthData{AccessToken: accessToken},
		UserContextMap:     jsons.UserContextMap{FRC: c.identity.FRC},
		RequestedTokenType: []string{"bearer", "mac_dms", "website_cookies"},
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", &RegistrationError{Reason: err.Error()}
	}

	headers := map[string]string{"x-amzn-identity-auth-domain": "api.amazon.com"}
	body, err := c.requestString(ctx, "POST", c.apiOrigin+cnst.PathAuthRegister, payload, true, headers)
	if err != nil {
		return "", &RegistrationError{Reason: err.Error()}
	}

	var response jsons.RegisterAppResponse
	if err := c.parseJSON([]byte(body), &response); err != nil {
		return "", &RegistrationError{Reason: err.Error()}
	}
	if response.Response == nil || response.Response.Success == nil ||
		response.Response.Success.Tokens == nil || response.Response.Success.Tokens.Bearer == nil {
		return "", &RegistrationError{Reason: "no bearer received from register application"}
	}
	refreshToken := response.Response.Success.Tokens.Bearer.RefreshToken
	if refreshToken == "" {
		return "", &RegistrationError{Reason: "no refresh token received"}
	}
	c.mu.Lock()
	c.refreshToken = refreshToken
	c.mu.Unlock()

	if err := c.postRegister(ctx); err != nil {
		c.Logout()
		return "", err
	}

	deviceName := "Unknown"
	if ext := response.Response.Success.Extensions; ext != nil && ext.DeviceInfo != nil && ext.DeviceInfo.DeviceName != "" {
		deviceName = ext.DeviceInfo.DeviceName
	}
	c.mu.Lock()
	c.deviceName = deviceName
	c.mu.Unlock()
	return deviceName, nil
}

// postRegister runs the token exchange against the default domain, discovers
// the account's owner domain, switches to it and verifies the session.
func (c *Connection) postRegister(ctx context.Context) error {
	if err := c.exchangeToken(ctx); err != nil {
		return err
	}

	body, err := c.requestString(ctx, "GET", "https://alexa.amazon.com"+cnst.PathUsersMe, nil, false, nil)
	if err != nil {
		return &SessionError{Op: "querying users/me", Err: err}
	}
	var me jsons.UsersMeResponse
	if err := c.parseJSON([]byte(body), &me); err != nil {
		return &SessionError{Op: "querying users/me", Err: err}
	}
	marketplace, err := url.Parse(me.MarketPlaceDomainName)
	if err != nil || marketplace.Host == "" {
		return &SessionError{Op: "resolving marketplace domain", Err: err}
	}

	c.mu.Lock()
	c.setAmazonSite(marketplace.Host)
	c.mu.Unlock()

	if err := c.exchangeToken(ctx); err != nil {
		return err
	}
	if _, err := c.tryGetBootstrap(ctx); err != nil {
		return &SessionError{Op: "bootstrap after registration", Err: err}
	}
	return nil
}

// exchangeToken converts the refresh token into fresh session cookies for
// the active domain. The renewal deadline is cleared up front so a failure
// midway leaves the session marked as due.
func (c *Connection) exchangeToken(ctx context.Context) error {
	c.mu.Lock()
	c.renewTime = time.Time{}
	site := c.amazonSite
	wwwServer := c.wwwServer
	refreshToken := c.refreshToken
	c.mu.Unlock()

	if refreshToken == "" {
		return &SessionError{Op: "token exchange", Err: ErrNotLoggedIn}
	}

	cookiesJSON := `{"cookies":{".` + site + `":[]}}`
	form := url.Values{}
	form.Set("di.os.name", cnst.OSName)
	form.Set("app_version", cnst.AppVersion)
	form.Set("domain", "."+site)
	form.Set("source_token", refreshToken)
	form.Set("requested_token_type", "auth_cookies")
	form.Set("source_token_type", "refresh_token")
	form.Set("di.hw.version", cnst.HardwareVersion)
	form.Set("di.sdk.version", cnst.SDKVersion)
	form.Set("cookies", base64.StdEncoding.EncodeToString([]byte(cookiesJSON)))
	form.Set("app_name", cnst.AppName)
	form.Set("di.os.version", cnst.OSVersion)

	// the exchange must not carry existing session cookies
	headers := map[string]string{"Cookie": ""}
	body, err := c.requestString(ctx, "POST", wwwServer+"/ap/exchangetoken", []byte(form.Encode()), false, headers)
	if err != nil {
		return &SessionError{Op: "token exchange", Err: err}
	}

	var exchange jsons.ExchangeTokenResponse
	if err := c.parseJSON([]byte(body), &exchange); err != nil {
		return &SessionError{Op: "token exchange", Err: err}
	}
	if exchange.Response != nil && exchange.Response.Tokens != nil {
		for domain, cookies := range exchange.Response.Tokens.Cookies {
			for _, cookie := range cookies {
				stored := &Cookie{
					Name:   cookie.Name,
					Value:  cookie.Value,
					Path:   cookie.Path,
					Domain: domain,
					MaxAge: -1,
				}
				if cookie.Secure != nil {
					stored.Secure = *cookie.Secure
				}
				c.cookies.Add(stored)
			}
		}
	}

	ok, err := c.VerifyLogin(ctx)
	if err != nil {
		return &SessionError{Op: "verify after token exchange", Err: err}
	}
	if !ok {
		return &SessionError{Op: "verify login failed after token exchange"}
	}

	c.mu.Lock()
	c.renewTime = time.Now().Add(time.Duration(float64(cnst.TokenValidity) / cnst.RenewFactor))
	c.mu.Unlock()
	return nil
}

// CheckRenewSession refreshes the token and re-exchanges it once the
// renewal deadline has passed. Callers must invoke it before authenticated
// calls. It reports whether a renewal happened.
func (c *Connection) CheckRenewSession(ctx context.Context) (bool, error) {
	c.mu.Lock()
	due := !time.Now().Before(c.renewTime)
	refreshToken := c.refreshToken
	c.mu.Unlock()
	if !due {
		return false, nil
	}
	if refreshToken == "" {
		return false, &SessionError{Op: "renew session", Err: ErrNotLoggedIn}
	}

	form := url.Values{}
	form.Set("app_name", cnst.AppName)
	form.Set("app_version", cnst.AppVersion)
	form.Set("di.sdk.version", cnst.SDKVersion)
	form.Set("source_token", refreshToken)
	form.Set("package_name", cnst.AppBundleID)
	form.Set("di.hw.version", cnst.HardwareVersion)
	form.Set("platform", cnst.OSName)
	form.Set("requested_token_type", "access_token")
	form.Set("source_token_type", "refresh_token")
	form.Set("di.os.name", cnst.OSName)
	form.Set("di.os.version", cnst.OSVersion)
	form.Set("current_version", cnst.SDKVersion)

	body, err := c.requestString(ctx, "POST", c.apiOrigin+cnst.PathAuthToken, []byte(form.Encode()), false, nil)
	if err != nil {
		return false, &SessionError{Op: "renew token", Err: err}
	}
	var renew jsons.RenewTokenResponse
	if err := c.parseJSON([]byte(body), &renew); err != nil {
		return false, &SessionError{Op: "renew token", Err: err}
	}

	if err := c.exchangeToken(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// tryGetBootstrap calls the identity-verification endpoint and, when the
// session is authenticated, records the customer name and fills the account
// customer id if absent.
func (c *Connection) tryGetBootstrap(ctx context.Context) (*jsons.Authentication, error) {
	c.mu.Lock()
	alexaServer := c.alexaServer
	c.mu.Unlock()

	resp, err := c.makeRequest(ctx, "GET", alexaServer+cnst.PathBootstrap, nil, false, true, nil, 0)
	if err != nil {
		return nil, err
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "application/json") {
		return nil, nil
	}
	var result jsons.BootstrapResult
	if err := c.parseJSON(resp.Body, &result); err != nil {
		return nil, nil
	}
	auth := result.Authentication
	if auth == nil || !auth.Authenticated {
		return nil, nil
	}
	c.mu.Lock()
	c.customerName = auth.CustomerName
	if c.customerID == "" {
		c.customerID = auth.CustomerID
	}
	c.mu.Unlock()
	return auth, nil
}

// VerifyLogin confirms genuine session validity against the bootstrap
// endpoint. It returns false without a call when no refresh token is set.
func (c *Connection) VerifyLogin(ctx context.Context) (bool, error) {
	c.mu.Lock()
	hasToken := c.refreshToken != ""
	c.mu.Unlock()
	if !hasToken {
		return false, nil
	}
	auth, err := c.tryGetBootstrap(ctx)
	if err != nil {
		return false, err
	}
	if auth == nil || !auth.Authenticated {
		return false, nil
	}
	c.mu.Lock()
	c.verifyTime = time.Now()
	if c.loginTime.IsZero() {
		c.loginTime = c.verifyTime
	}
	c.mu.Unlock()
	return true, nil
}

// Logout clears cookies and session scalars and cancels every pending timer
// and queued command so nothing stale can be dispatched against a dead
// session. In-flight HTTP calls are not aborted.
func (c *Connection) Logout() {
	c.cookies.Clear()

	c.mu.Lock()
	c.refreshToken = ""
	c.loginTime = time.Time{}
	c.verifyTime = time.Time{}
	c.renewTime = time.Time{}
	c.deviceName = ""
	c.customerID = ""
	c.customerName = ""
	c.mu.Unlock()

	c.announcements.reset()
	c.speeches.reset()
	c.sequences.reset()
}

// makeRequest enqueues one call on the dispatcher and waits for it.
func (c *Connection) makeRequest(ctx context.Context, verb, requestURL string, body []byte, isJSON, allowRedirect bool, headers map[string]string, retries int) (*Response, error) {
	p := c.dispatcher.enqueue(&queuedRequest{
		verb:          verb,
		url:           requestURL,
		body:          body,
		json:          isJSON,
		allowRedirect: allowRedirect,
		headers:       headers,
		retriesLeft:   retries,
	})
	return p.Wait(ctx)
}

// requestString is the common helper for calls whose body is consumed as
// text.
func (c *Connection) requestString(ctx context.Context, verb, requestURL string, body []byte, isJSON bool, headers map[string]string) (string, error) {
	resp, err := c.makeRequest(ctx, verb, requestURL, body, isJSON, true, headers, 0)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// fire dispatches a call without waiting; failures are logged.
func (c *Connection) fire(verb, requestURL string, body []byte, isJSON bool, headers map[string]string, retries int) {
	p := c.dispatcher.enqueue(&queuedRequest{
		verb:          verb,
		url:           requestURL,
		body:          body,
		json:          isJSON,
		allowRedirect: true,
		headers:       headers,
		retriesLeft:   retries,
	})
	go func() {
		if _, err := p.Wait(context.Background()); err != nil {
			c.logger.Warn("queued call failed", zap.String("url", requestURL), zap.Error(err))
		}
	}()
}

// parseJSON decodes a response body, logging the offending payload on
// failure.
func (c *Connection) parseJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("parsing json failed", zap.Error(err))
		c.logger.Warn("illegal json", zap.ByteString("payload", data))
		return &DecodeError{Payload: string(data), Err: err}
	}
	return nil
}

// mediaOwnerCustomerID prefers the account customer id over the device's
// owner id.
func (c *Connection) mediaOwnerCustomerID(device jsons.Device) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.customerID != "" {
		return c.customerID
	}
	return device.DeviceOwnerCustomerID
}

func (c *Connection) server() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alexaServer
}

var _ fmt.Stringer = (*Connection)(nil)

// String identifies the session for logs without leaking secrets.
func (c *Connection) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("connection{site: %s, logged in: %t}", c.amazonSite, c.refreshToken != "")
}
