// Package http is a small JSON client used to reach engine gateways.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/ty"
)

type Auth interface {
	Login(req *http.Request) error
}

// HeaderAuth sets fixed headers (like Authorization) on each request.
type HeaderAuth struct {
	Headers ty.MS
}

func (h HeaderAuth) Login(req *http.Request) error {
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// StatusError is returned when the server answers with a status >= 400.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

type HttpClient struct {
	client *http.Client
	url    string
}

// Debug controls whether verbose HTTP-level debug logs are emitted. Tests and
// production code can toggle this to avoid leaking secrets into logs.
var Debug = false

// SetDebug sets the package debug flag.
func SetDebug(d bool) {
	Debug = d
}

// DebugEnabled returns whether HTTP debug logging is enabled.
func DebugEnabled() bool {
	return Debug
}

// ClientOptions tunes the underlying transport.
type ClientOptions struct {
	Timeout time.Duration
	// Insecure skips TLS certificate verification.
	Insecure bool
}

func (c HttpClient) do(ctx context.Context, method, path string, headers ty.MS, body io.Reader, responseData interface{}, auth Auth) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if auth != nil {
		if err = auth.Login(req); err != nil {
			log.Warn("http auth: %s", err.Error())
		}
	}

	if Debug {
		log.Debug("[%s] %s headers: %s", method, req.URL.String(), maskHeaderMap(req.Header))
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if Debug && len(resBody) > 0 {
		s := string(resBody)
		if len(s) > 2000 {
			s = s[:2000] + "...TRUNCATED"
		}
		log.Debug("[%s-RAW] %d %s", method, res.StatusCode, s)
	}

	if res.StatusCode >= 400 {
		return &StatusError{StatusCode: res.StatusCode, Body: resBody}
	}

	if responseData == nil || len(bytes.TrimSpace(resBody)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(resBody))
	dec.UseNumber()
	return dec.Decode(responseData)
}

// PostJson encodes body as JSON and decodes the JSON answer into
// responseData. Numbers are decoded as json.Number.
func (c HttpClient) PostJson(ctx context.Context, path string, headers ty.MS, body interface{}, responseData interface{}, auth Auth) error {
	h := ty.MS{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	if Debug {
		log.Debug("[POST]%s%s %s", c.url, path, buf.String())
	}

	return c.do(ctx, http.MethodPost, path, h, &buf, responseData, auth)
}

// Get issues a GET with queryParams and decodes the JSON answer.
func (c HttpClient) Get(ctx context.Context, path string, queryParams ty.MS, headers ty.MS, responseData interface{}, auth Auth) error {
	q := url.Values{}
	for k, v := range queryParams {
		q.Add(k, v)
	}
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.do(ctx, http.MethodGet, path, headers, nil, responseData, auth)
}

// URL returns the normalised base URL.
func (c HttpClient) URL() string {
	return c.url
}

func GetClient(url string, opts *ClientOptions) HttpClient {
	// Normalize URL: if scheme is missing, default to https. Also remove
	// any trailing slash to avoid double slashes when appending paths.
	if url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "https://" + url
		}
		for strings.HasSuffix(url, "/") {
			url = strings.TrimSuffix(url, "/")
		}
	}

	if opts == nil {
		opts = &ClientOptions{}
	}

	return HttpClient{
		client: newHTTPClient(*opts),
		url:    url,
	}
}

func newHTTPClient(opts ClientOptions) *http.Client {
	client := &http.Client{Timeout: opts.Timeout}
	if v, ok := http.DefaultTransport.(*http.Transport); ok {
		customTransport := v.Clone()
		if opts.Insecure {
			customTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		client.Transport = customTransport
	}
	return client
}

// maskHeaderMap returns a string representation of headers with sensitive
// values redacted (keeps first 4 chars for debugging).
func maskHeaderMap(h http.Header) string {
	redacted := []string{}
	for k, vals := range h {
		v := ""
		if len(vals) > 0 {
			val := vals[0]
			switch strings.ToLower(k) {
			case "authorization", "cookie", "x-api-key", "x-auth-token":
				if len(val) > 4 {
					v = val[:4] + "...REDACTED"
				} else {
					v = "REDACTED"
				}
			default:
				v = val
			}
		}
		redacted = append(redacted, fmt.Sprintf("%s: %s", k, v))
	}
	return strings.Join(redacted, "; ")
}
