package connection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/pkg/metrics"
	"go.uber.org/zap"
)

// Response is the result of one dispatched request with the body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// queuedRequest is one outbound call waiting in the dispatcher queue.
// Its promise is resolved exactly once.
type queuedRequest struct {
	verb          string
	url           string
	body          []byte // nil means no body
	json          bool
	allowRedirect bool
	headers       map[string]string
	retriesLeft   int

	promise *promise
}

// promise is a single-resolution completion handle.
type promise struct {
	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newPromise() *promise {
	return &promise{done: make(chan struct{})}
}

func (p *promise) resolve(resp *Response) {
	p.once.Do(func() {
		p.resp = resp
		close(p.done)
	})
}

func (p *promise) reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Wait blocks until the request completes or the context is cancelled.
// A cancelled wait does not abort the in-flight call; its eventual
// completion is simply never observed.
func (p *promise) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatcher serializes all outbound HTTP calls: one request in flight at a
// time, FIFO order, except that a transiently failing call is requeued at
// the front of the queue. A fixed spacing between calls keeps the client
// under the upstream service's informal rate tolerance.
type dispatcher struct {
	client  *http.Client
	cookies *CookieStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	spacing time.Duration

	mu      sync.Mutex
	queue   []*queuedRequest
	running bool
}

func newDispatcher(cookies *CookieStore, spacing time.Duration, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *dispatcher {
	return &dispatcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// redirects are resolved manually
				return http.ErrUseLastResponse
			},
		},
		cookies: cookies,
		logger:  logger.Named("connection.dispatcher"),
		metrics: m,
		spacing: spacing,
	}
}

// enqueue appends a request and wakes the processing loop if it was idle.
func (d *dispatcher) enqueue(req *queuedRequest) *promise {
	req.promise = newPromise()

	d.mu.Lock()
	d.queue = append(d.queue, req)
	depth := len(d.queue)
	wake := !d.running
	if wake {
		d.running = true
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.QueueDepth(depth)
	}
	if wake {
		go d.run()
	}
	return req.promise
}

// idle reports whether nothing is queued or in flight.
func (d *dispatcher) idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) == 0 && !d.running
}

// requeueFront puts a request back at the head of the queue so its replay
// takes priority over newer arrivals.
func (d *dispatcher) requeueFront(req *queuedRequest) {
	d.mu.Lock()
	d.queue = append([]*queuedRequest{req}, d.queue...)
	d.mu.Unlock()
}

// run is the single consumer loop. It exits when the queue drains; the next
// enqueue starts a new one.
func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		req := d.queue[0]
		d.queue = d.queue[1:]
		depth := len(d.queue)
		d.mu.Unlock()

		if d.metrics != nil {
			d.metrics.QueueDepth(depth)
		}
		d.process(req)
		time.Sleep(d.spacing)
	}
}

// process performs one request including manual redirect resolution and the
// bad-request front-of-queue retry rule.
func (d *dispatcher) process(req *queuedRequest) {
	currentURL := req.url
	redirects := 0
	start := time.Now()

	for {
		d.logger.Debug("make request", zap.String("verb", req.verb), zap.String("url", currentURL))

		httpReq, err := d.build(req, currentURL)
		if err != nil {
			req.promise.reject(fmt.Errorf("building request for %q: %w", currentURL, err))
			return
		}

		resp, err := d.client.Do(httpReq)
		if err != nil {
			d.logger.Warn("request failed with transport error",
				zap.String("url", req.url),
				zap.Error(err))
			if d.metrics != nil {
				d.metrics.ReqDone(req.verb, 0, start)
			}
			req.promise.reject(fmt.Errorf("request to %q: %w", req.url, err))
			return
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			req.promise.reject(fmt.Errorf("reading response of %q: %w", req.url, err))
			return
		}

		if d.metrics != nil {
			d.metrics.ReqDone(req.verb, resp.StatusCode, start)
		}

		switch {
		case resp.StatusCode == http.StatusBadRequest && req.retriesLeft > 0:
			// the upstream occasionally needs the exact same call
			// replayed; put it back at the front of the queue
			d.logger.Debug("retrying call", zap.String("url", req.url), zap.Int("left", req.retriesLeft-1))
			req.retriesLeft--
			if d.metrics != nil {
				d.metrics.ReqRetried()
			}
			d.requeueFront(req)
			return

		case resp.StatusCode == http.StatusOK:
			d.logger.Debug("call succeeded", zap.String("url", req.url))
			req.promise.resolve(&Response{
				Status: resp.StatusCode,
				Header: resp.Header,
				Body:   body,
			})
			return

		case resp.StatusCode == http.StatusFound:
			location := resolveLocation(httpReq.URL, resp.Header.Get("Location"))
			if location == "" {
				req.promise.reject(&HTTPError{Status: resp.StatusCode, Verb: req.verb, URL: req.url})
				return
			}
			if !req.allowRedirect {
				req.promise.reject(ErrRedirectForbidden)
				return
			}
			redirects++
			if redirects > cnst.MaxRedirects {
				req.promise.reject(ErrTooManyRedirects)
				return
			}
			d.logger.Debug("redirected", zap.String("location", location))
			if d.metrics != nil {
				d.metrics.Redirected()
			}
			currentURL = location
			continue

		default:
			req.promise.reject(&HTTPError{Status: resp.StatusCode, Verb: req.verb, URL: req.url})
			return
		}
	}
}

// build assembles the http.Request with the fixed header set, request
// headers and cookies scoped to the target URI. A caller-supplied Cookie
// header suppresses the store lookup.
func (d *dispatcher) build(req *queuedRequest, currentURL string) (*http.Request, error) {
	var bodyReader io.Reader
	if req.body != nil {
		bodyReader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequest(req.verb, currentURL, bodyReader)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("User-Agent", cnst.UserAgent)
	httpReq.Header.Set("Accept-Language", "en-US")
	httpReq.Header.Set("DNT", "1")
	httpReq.Header.Set("Upgrade-Insecure-Requests", "1")

	customCookie := false
	for k, v := range req.headers {
		if v == "" {
			if strings.EqualFold(k, "Cookie") {
				customCookie = true
			}
			continue
		}
		if strings.EqualFold(k, "Cookie") {
			customCookie = true
		}
		httpReq.Header.Set(k, v)
	}

	if !customCookie {
		for _, c := range d.cookies.ForURL(httpReq.URL) {
			httpReq.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
			if c.Name == "csrf" {
				httpReq.Header.Set("csrf", c.Value)
			}
		}
	}

	if req.body != nil {
		if req.json {
			httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
		} else {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if req.verb == http.MethodPost {
			httpReq.Header.Set("Expect", "100-continue")
		}
	}
	return httpReq, nil
}

// resolveLocation resolves a Location header against the request URI and
// upgrades plain-http targets to https. Non-http schemes pass through
// untouched.
func resolveLocation(base *url.URL, location string) string {
	if location == "" {
		return ""
	}
	target, err := base.Parse(location)
	if err != nil {
		return ""
	}
	resolved := target.String()
	if strings.HasPrefix(strings.ToLower(resolved), "http://") {
		// always use https
		resolved = "https://" + resolved[len("http://"):]
	}
	return resolved
}
