package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/kode4food/marionette/internal/client"
)

type (
	// ChromeLauncher starts a dedicated headless or headed Chrome process
	// per session over the DevTools protocol
	ChromeLauncher struct {
		client  client.Client
		timeout time.Duration
		opts    []chromedp.ExecAllocatorOption
	}

	chromeSession struct {
		tabCtx      context.Context
		cancelTab   context.CancelFunc
		cancelAlloc context.CancelFunc
		client      client.Client
		timeout     time.Duration
		closeOnce   sync.Once
		mu          sync.Mutex
		closed      bool
	}
)

const (
	maxVisibilityWait = 2 * time.Second
	textPollInterval  = 100 * time.Millisecond
)

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher creates a launcher whose sessions use timeout for every
// page action and cl for raw HTTP requests
func NewChromeLauncher(
	cl client.Client, timeout time.Duration, opts ...chromedp.ExecAllocatorOption,
) *ChromeLauncher {
	return &ChromeLauncher{
		client:  cl,
		timeout: timeout,
		opts:    opts,
	}
}

// Launch starts a browser and opens its first tab
func (l *ChromeLauncher) Launch(
	ctx context.Context, headless bool,
) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
	)
	opts = append(opts, l.opts...)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(
		context.WithoutCancel(ctx), opts...,
	)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}

	slog.Debug("Browser session opened", slog.Bool("headless", headless))
	return &chromeSession{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		client:      l.client,
		timeout:     l.timeout,
	}, nil
}

func (s *chromeSession) Goto(ctx context.Context, url string) error {
	return s.run(ctx, s.timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady(DefaultScope, chromedp.ByQuery),
	)
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	sel, opt, err := s.locate(ctx, selector, s.timeout)
	if err != nil {
		return err
	}
	return s.run(ctx, s.timeout,
		chromedp.Click(sel, opt, chromedp.NodeVisible),
	)
}

func (s *chromeSession) Fill(
	ctx context.Context, selector, value string,
) error {
	sel, opt, err := s.locate(ctx, selector, s.timeout)
	if err != nil {
		return err
	}
	return s.run(ctx, s.timeout,
		chromedp.WaitVisible(sel, opt),
		chromedp.SetValue(sel, "", opt),
		chromedp.SendKeys(sel, value, opt),
	)
}

func (s *chromeSession) WaitForSelector(
	ctx context.Context, selector string, timeout time.Duration,
) error {
	if isTextSelector(selector) {
		_, _, err := s.locate(ctx, selector, timeout)
		return err
	}
	sel, opt := query(selector)
	return s.run(ctx, timeout, chromedp.WaitVisible(sel, opt))
}

func (s *chromeSession) TextContent(
	ctx context.Context, scope string,
) (string, error) {
	if scope == "" {
		scope = DefaultScope
	}
	sel, opt, err := s.locate(ctx, scope, s.timeout)
	if err != nil {
		return "", err
	}
	var text string
	err = s.run(ctx, s.timeout, chromedp.Text(sel, &text, opt))
	return text, err
}

func (s *chromeSession) IsVisible(
	ctx context.Context, selector string,
) (bool, error) {
	wait := min(s.timeout, maxVisibilityWait)
	var err error
	if isTextSelector(selector) {
		_, _, err = s.locate(ctx, selector, wait)
	} else {
		sel, opt := query(selector)
		err = s.run(ctx, wait, chromedp.WaitVisible(sel, opt))
	}
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (s *chromeSession) Request(
	ctx context.Context, method, url string, body []byte,
) (*client.Response, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	return s.client.Do(ctx, method, url, body)
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, s.timeout, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancelTab()
		s.cancelAlloc()
		slog.Debug("Browser session closed")
	})
	return nil
}

func (s *chromeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *chromeSession) run(
	ctx context.Context, timeout time.Duration, actions ...chromedp.Action,
) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout waiting for locator", ErrNotFound)
	}
	return err
}

// locate resolves a selector to a query. Text selectors are pinned to the
// first visible match in document order, polling until timeout
func (s *chromeSession) locate(
	ctx context.Context, selector string, timeout time.Duration,
) (string, chromedp.QueryOption, error) {
	if !isTextSelector(selector) {
		sel, opt := query(selector)
		return sel, opt, nil
	}

	xpath, _ := query(selector)
	script := firstVisibleScript(xpath)
	deadline := time.Now().Add(timeout)
	for {
		var idx int
		remaining := max(time.Until(deadline), textPollInterval)
		err := s.run(ctx, remaining, chromedp.Evaluate(script, &idx))
		if err != nil && !IsNotFound(err) {
			return "", nil, err
		}
		if idx > 0 {
			return nthMatch(xpath, idx), chromedp.BySearch, nil
		}
		if !time.Now().Before(deadline) {
			return "", nil, fmt.Errorf(
				"%w: no visible element for %s", ErrNotFound, selector,
			)
		}
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(textPollInterval):
		}
	}
}

func isTextSelector(selector string) bool {
	return strings.HasPrefix(selector, TextPrefix)
}

func query(selector string) (string, chromedp.QueryOption) {
	switch {
	case strings.HasPrefix(selector, XPathPrefix):
		return strings.TrimPrefix(selector, XPathPrefix), chromedp.BySearch
	case isTextSelector(selector):
		return textXPath(strings.TrimPrefix(selector, TextPrefix)),
			chromedp.BySearch
	default:
		return selector, chromedp.ByQuery
	}
}

// nthMatch selects the idx-th (1-based) node matched by xpath
func nthMatch(xpath string, idx int) string {
	return fmt.Sprintf("(%s)[%d]", xpath, idx)
}

// firstVisibleScript returns a script that evaluates to the 1-based index
// of the first rendered node matched by xpath, or 0 when none is
func firstVisibleScript(xpath string) string {
	lit, _ := json.Marshal(xpath)
	return fmt.Sprintf(`(() => {
	const r = document.evaluate(%s, document, null,
		XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	for (let i = 0; i < r.snapshotLength; i++) {
		const el = r.snapshotItem(i);
		const st = window.getComputedStyle(el);
		if (st.display !== "none" && st.visibility !== "hidden" &&
			el.getClientRects().length > 0) {
			return i + 1;
		}
	}
	return 0;
})()`, lit)
}

const (
	upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlpha = "abcdefghijklmnopqrstuvwxyz"
)

// textXPath matches the body elements whose own text contains text,
// ignoring ASCII case. Script and style bodies are never candidates
func textXPath(text string) string {
	return fmt.Sprintf(
		`//body//*[not(self::script or self::style)]`+
			`[contains(translate(normalize-space(text()), '%s', '%s'), %s)]`,
		upperAlpha, lowerAlpha, xpathLiteral(strings.ToLower(text)),
	)
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return `concat('` + strings.Join(parts, `', "'", '`) + `')`
}
