// Package appwrite provides a Go client for Appwrite with a realtime
// subscription engine.
//
// The Client carries the endpoint, project and session cookies shared by the
// REST layer and the realtime socket. Realtime multiplexes every channel
// subscription over one WebSocket and reconnects on failure.
//
// Example:
//
//	client := appwrite.NewClient(
//		appwrite.WithEndpoint("https://cloud.appwrite.io/v1"),
//		appwrite.WithProject("my-project"),
//	)
//
//	rt := appwrite.NewRealtime(client, nil)
//	defer rt.Close()
//
//	sub, _ := rt.Subscribe([]string{"documents"}, func(ev appwrite.RealtimeResponseEvent) {
//		fmt.Println(ev.Events, string(ev.Payload))
//	})
//	defer sub.Close()
package appwrite

import (
	"crypto/tls"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Defaults
// ============================================================================

const (
	DefaultEndpoint = "https://cloud.appwrite.io/v1"
	DefaultTimeout  = 30 * time.Second

	SDKName     = "Go"
	SDKPlatform = "server"
	SDKLanguage = "go"
	SDKVersion  = "0.1.0"
)

// ============================================================================
// Client
// ============================================================================

// Client holds the connection settings shared by every service. It is safe
// for concurrent use; setters may be called while a Realtime engine is
// running and take effect on its next connection attempt.
type Client struct {
	mu               sync.RWMutex
	endpoint         string
	endpointRealtime string
	project          string
	selfSigned       bool
	headers          map[string]string
	httpClient       *http.Client
}

type ClientOption func(*Client)

func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.setEndpoint(endpoint) }
}

// WithEndpointRealtime overrides the realtime endpoint derived from the HTTP
// endpoint.
func WithEndpointRealtime(endpoint string) ClientOption {
	return func(c *Client) { c.endpointRealtime = strings.TrimRight(endpoint, "/") }
}

func WithProject(project string) ClientOption {
	return func(c *Client) { c.setProject(project) }
}

// WithHTTPClient uses a copy of client for REST calls and the realtime
// handshake. Later options and setters never modify the caller's value.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		cp := *client
		c.httpClient = &cp
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		cp := *c.httpClient
		cp.Timeout = timeout
		c.httpClient = &cp
	}
}

func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers[key] = value }
}

// WithSelfSigned disables TLS certificate verification. Only use it against
// development servers.
func WithSelfSigned(selfSigned bool) ClientOption {
	return func(c *Client) { c.applySelfSigned(selfSigned) }
}

// NewClient creates a new Appwrite client. The default HTTP client keeps an
// in-memory cookie jar so a session established over REST is presented on
// the realtime handshake as well.
func NewClient(opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		headers: map[string]string{
			"x-sdk-name":                 SDKName,
			"x-sdk-platform":             SDKPlatform,
			"x-sdk-language":             SDKLanguage,
			"x-sdk-version":              SDKVersion,
			"x-appwrite-response-format": "1.6.0",
		},
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Jar:     jar,
		},
	}
	c.setEndpoint(DefaultEndpoint)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEndpoint updates the HTTP endpoint and re-derives the realtime one.
func (c *Client) SetEndpoint(endpoint string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setEndpoint(endpoint)
	return c
}

func (c *Client) SetEndpointRealtime(endpoint string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpointRealtime = strings.TrimRight(endpoint, "/")
	return c
}

func (c *Client) SetProject(project string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setProject(project)
	return c
}

func (c *Client) SetSelfSigned(selfSigned bool) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applySelfSigned(selfSigned)
	return c
}

// AddHeader sets a header sent with every request and the realtime handshake.
func (c *Client) AddHeader(key, value string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
	return c
}

func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

func (c *Client) EndpointRealtime() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpointRealtime
}

func (c *Client) Project() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.project
}

// Headers returns a copy of the default headers as an http.Header.
func (c *Client) Headers() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := make(http.Header, len(c.headers))
	for k, v := range c.headers {
		h.Set(k, v)
	}
	return h
}

func (c *Client) HTTPClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}

// ============================================================================
// Internal helpers (callers hold c.mu)
// ============================================================================

func (c *Client) setEndpoint(endpoint string) {
	c.endpoint = strings.TrimRight(endpoint, "/")
	c.endpointRealtime = realtimeEndpointFor(c.endpoint)
}

func (c *Client) setProject(project string) {
	c.project = project
	c.headers["x-appwrite-project"] = project
}

// applySelfSigned swaps in a new *http.Client. Values already handed out by
// HTTPClient stay untouched, so a dial in flight keeps a consistent copy.
func (c *Client) applySelfSigned(selfSigned bool) {
	c.selfSigned = selfSigned
	tr, ok := c.httpClient.Transport.(*http.Transport)
	if !ok || tr == nil {
		tr = http.DefaultTransport.(*http.Transport).Clone()
	} else {
		tr = tr.Clone()
	}
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{}
	}
	tr.TLSClientConfig.InsecureSkipVerify = selfSigned
	hc := *c.httpClient
	hc.Transport = tr
	c.httpClient = &hc
}

// realtimeEndpointFor swaps the HTTP scheme of endpoint for its WebSocket
// counterpart.
func realtimeEndpointFor(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}
