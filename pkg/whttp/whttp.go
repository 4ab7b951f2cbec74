package whttp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const userAgent = "crimedash/1.0 (+https://github.com/nycrime-kg/crimedash)"

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
	Body    string
}

type WHTTPRes struct {
	StatusCode int
	BodyBytes  []byte
}

// NetworkError is returned when a request could not be completed or the
// backend answered with a non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SendHTTPRequest performs wReq with client and reads the whole body.
func SendHTTPRequest(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client) (*WHTTPRes, error) {
	var body io.Reader
	if wReq.Body != "" {
		body = strings.NewReader(wReq.Body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, wReq.Method, wReq.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/sparql-results+json, application/json")
	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &WHTTPRes{StatusCode: resp.StatusCode, BodyBytes: bodyBytes}, nil
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
	Username string
	Password string
	Proxy    string
	Log      *logrus.Logger
}

// Client fetches backend query endpoints relative to a base URL.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	http     *retryablehttp.Client
}

// New builds a Client. RetryMax < 0 disables retries.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", cfg.BaseURL)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	if cfg.RetryMax < 0 {
		retryClient.RetryMax = 0
	}
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	// Hand the final response back instead of an opaque "giving up" error,
	// so callers see the real status code.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Log != nil {
		retryClient.Logger = leveledLogger{cfg.Log}
	} else {
		retryClient.Logger = nil
	}
	if cfg.Timeout > 0 {
		retryClient.HTTPClient.Timeout = cfg.Timeout
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %v", err)
		}
		retryClient.HTTPClient.Transport = &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		http:     retryClient,
	}, nil
}

// URL resolves path and query against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

// Fetch GETs path with query and returns the body of a 2xx response.
// Every other outcome is a *NetworkError.
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.URL(path, query)
	req := &WHTTPReq{Method: http.MethodGet, URL: target}
	if c.username != "" || c.password != "" {
		req.Headers = append(req.Headers, WHTTPHeader{Name: "Authorization", Value: basicAuth(c.username, c.password)})
	}

	res, err := SendHTTPRequest(ctx, req, c.http)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &NetworkError{URL: target, StatusCode: res.StatusCode}
	}
	return res.BodyBytes, nil
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// leveledLogger routes retryablehttp's logging to logrus.
type leveledLogger struct{ l *logrus.Logger }

func (l leveledLogger) fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.l.WithFields(l.fields(kv)).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.l.WithFields(l.fields(kv)).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.l.WithFields(l.fields(kv)).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.l.WithFields(l.fields(kv)).Warn(msg) }
