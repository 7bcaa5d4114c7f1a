package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kode4food/marionette/pkg/log"
)

type (
	// Client issues raw HTTP calls for api_request steps and webhook nodes
	Client interface {
		Do(
			ctx context.Context, method, url string, body []byte,
		) (*Response, error)
	}

	// Response is the status and decoded body of an HTTP call. Body holds
	// the parsed JSON value when the payload is JSON, otherwise the raw
	// text
	Response struct {
		Body   any    `json:"body"`
		Raw    []byte `json:"-"`
		Status int    `json:"status"`
	}

	HTTPClient struct {
		httpClient *http.Client
		timeout    time.Duration
	}
)

const userAgent = "Marionette-Engine/1.0"

var (
	ErrInvalidMethod = errors.New("invalid HTTP method")
	ErrURLEmpty      = errors.New("request URL empty")
)

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Do sends the request and returns the response for any status code. Only
// transport failures are reported as errors
func (c *HTTPClient) Do(
	ctx context.Context, method, url string, body []byte,
) (*Response, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, method)
	}
	if url == "" {
		return nil, ErrURLEmpty
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}

	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	dur := time.Since(start)

	if err != nil {
		slog.Warn("HTTP request failed",
			slog.String("method", method),
			slog.String("url", url),
			slog.Duration("duration", dur),
			log.Error(err))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn("Failed to read response body",
			slog.String("url", url),
			log.Error(err))
		return nil, err
	}

	slog.Debug("HTTP request completed",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration("duration", dur))

	return &Response{
		Status: resp.StatusCode,
		Body:   decodeBody(respBody),
		Raw:    respBody,
	}, nil
}

// SendJSON marshals payload and sends it with Do
func SendJSON(
	ctx context.Context, c Client, method, url string, payload any,
) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, method, url, body)
}

// BodyText returns the serialized form of the response body, the text that
// body assertions search
func (r *Response) BodyText() string {
	if s, ok := r.Body.(string); ok {
		return s
	}
	if len(r.Raw) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r.Raw); err == nil {
			return buf.String()
		}
		return string(r.Raw)
	}
	if r.Body == nil {
		return ""
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.Body); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// OK reports whether the status is 2xx
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

func decodeBody(b []byte) any {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if !gjson.ValidBytes(b) {
		return string(b)
	}
	return gjson.ParseBytes(b).Value()
}

func validMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
