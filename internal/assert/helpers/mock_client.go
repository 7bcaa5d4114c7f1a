package helpers

import (
	"context"
	"sync"
	"time"

	"github.com/kode4food/marionette/internal/client"
)

type (
	// MockClient is a mock implementation of client.Client keyed by URL
	MockClient struct {
		responses map[string]*client.Response
		errors    map[string][]error
		requests  []*MockRequest
		invokedCh map[string]chan struct{}
		mu        sync.Mutex
	}

	// MockRequest records one call made through a MockClient
	MockRequest struct {
		Method string
		URL    string
		Body   []byte
	}
)

// NewMockClient creates a mock HTTP client that allows setting responses and
// errors for specific URLs. Unknown URLs answer 200 with no body
func NewMockClient() *MockClient {
	return &MockClient{
		responses: map[string]*client.Response{},
		errors:    map[string][]error{},
		invokedCh: map[string]chan struct{}{},
	}
}

// Do records the request and returns the configured response or error
func (c *MockClient) Do(
	_ context.Context, method, url string, body []byte,
) (*client.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, &MockRequest{
		Method: method, URL: url, Body: body,
	})
	if ch, ok := c.invokedCh[url]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	if errs := c.errors[url]; len(errs) > 0 {
		err := errs[0]
		c.errors[url] = errs[1:]
		return nil, err
	}

	if resp, ok := c.responses[url]; ok {
		res := *resp
		return &res, nil
	}
	return &client.Response{Status: 200}, nil
}

// SetResponse configures the status and decoded body returned for url
func (c *MockClient) SetResponse(url string, status int, body any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[url] = &client.Response{Status: status, Body: body}
}

// SetError queues transport errors returned by the next calls to url
func (c *MockClient) SetError(url string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[url] = append(c.errors[url], errs...)
}

// Requests returns every recorded request for url
func (c *MockClient) Requests(url string) []*MockRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []*MockRequest
	for _, r := range c.requests {
		if r.URL == url {
			res = append(res, r)
		}
	}
	return res
}

// WasInvoked reports whether any request was made to url
func (c *MockClient) WasInvoked(url string) bool {
	return len(c.Requests(url)) > 0
}

// WaitForInvocation blocks until url is requested or the timeout elapses
func (c *MockClient) WaitForInvocation(url string, timeout time.Duration) bool {
	c.mu.Lock()
	for _, r := range c.requests {
		if r.URL == url {
			c.mu.Unlock()
			return true
		}
	}
	ch, ok := c.invokedCh[url]
	if !ok {
		ch = make(chan struct{}, 1)
		c.invokedCh[url] = ch
	}
	c.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
