package browser

import (
	"context"
	"errors"
	"time"

	"github.com/kode4food/marionette/internal/client"
)

type (
	// Session drives one page context of one browser. A Session is owned by
	// a single run and is never shared
	Session interface {
		Goto(ctx context.Context, url string) error
		Click(ctx context.Context, selector string) error
		Fill(ctx context.Context, selector, value string) error
		WaitForSelector(
			ctx context.Context, selector string, timeout time.Duration,
		) error
		TextContent(ctx context.Context, scope string) (string, error)
		IsVisible(ctx context.Context, selector string) (bool, error)
		Request(
			ctx context.Context, method, url string, body []byte,
		) (*client.Response, error)
		Screenshot(ctx context.Context) ([]byte, error)
		Close() error
	}

	// Launcher opens browser sessions
	Launcher interface {
		Launch(ctx context.Context, headless bool) (Session, error)
	}
)

const (
	// XPathPrefix marks a selector as an XPath expression
	XPathPrefix = "xpath="

	// TextPrefix marks a selector as a case-insensitive partial text match
	TextPrefix = "text="

	// DefaultScope is the element whose text assertions search
	DefaultScope = "body"
)

var (
	// ErrNotFound is wrapped by every error caused by a selector that did
	// not match a visible element in time
	ErrNotFound = errors.New("element not found")

	ErrSessionClosed = errors.New("browser session closed")
)

// IsNotFound reports whether err was caused by a selector that failed to
// match
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// TextSelector builds a selector that matches elements containing text
func TextSelector(text string) string {
	return TextPrefix + text
}
