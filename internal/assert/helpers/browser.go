package helpers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kode4food/marionette/internal/browser"
	"github.com/kode4food/marionette/internal/client"
)

type (
	// FakePage is a scripted page: its visible body text, the elements that
	// selectors can match, and the screenshot it renders
	FakePage struct {
		Elements   map[string]*FakeElement
		Text       string
		Screenshot []byte
	}

	// FakeElement is an element addressable by a literal selector. Its text
	// is matched by text= selectors
	FakeElement struct {
		Text   string
		Hidden bool
	}

	// FakeLauncher opens FakeSessions over a shared set of pages keyed by
	// URL and records every session it opened
	FakeLauncher struct {
		Pages     map[string]*FakePage
		Client    client.Client
		LaunchErr error
		sessions  []*FakeSession
		mu        sync.Mutex
	}

	// FakeSession implements browser.Session against FakePages
	FakeSession struct {
		launcher *FakeLauncher
		current  *FakePage
		actions  []string
		headless bool
		closed   bool
		mu       sync.Mutex
	}
)

var (
	ErrPageNotFound = errors.New("page not found")
	ErrNoClient     = errors.New("fake session has no HTTP client")
)

var _ browser.Launcher = (*FakeLauncher)(nil)
var _ browser.Session = (*FakeSession)(nil)

// NewFakeLauncher creates a launcher over the given pages
func NewFakeLauncher(pages map[string]*FakePage) *FakeLauncher {
	if pages == nil {
		pages = map[string]*FakePage{}
	}
	return &FakeLauncher{Pages: pages}
}

// ExamplePages returns the page model of https://example.com
func ExamplePages() map[string]*FakePage {
	return map[string]*FakePage{
		"https://example.com": {
			Text: "Example Domain\nThis domain is for use in illustrative " +
				"examples in documents.",
			Elements: map[string]*FakeElement{
				"h1":     {Text: "Example Domain"},
				"a":      {Text: "More information..."},
				"#login": {Text: "Login"},
			},
			Screenshot: []byte("example"),
		},
	}
}

func (l *FakeLauncher) Launch(
	_ context.Context, headless bool,
) (browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	s := &FakeSession{launcher: l, headless: headless}
	l.sessions = append(l.sessions, s)
	return s, nil
}

// SetPage adds or replaces a page
func (l *FakeLauncher) SetPage(url string, p *FakePage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Pages[url] = p
}

// Sessions returns every session opened so far
func (l *FakeLauncher) Sessions() []*FakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.sessions)
}

// AllClosed reports whether every opened session has been closed
func (l *FakeLauncher) AllClosed() bool {
	for _, s := range l.Sessions() {
		if !s.Closed() {
			return false
		}
	}
	return true
}

func (l *FakeLauncher) page(url string) (*FakePage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.Pages[url]
	return p, ok
}

func (s *FakeSession) Goto(_ context.Context, url string) error {
	s.record("goto:" + url)
	p, ok := s.launcher.page(url)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPageNotFound, url)
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	return nil
}

func (s *FakeSession) Click(_ context.Context, selector string) error {
	if _, err := s.find(selector); err != nil {
		return err
	}
	s.record("click:" + selector)
	return nil
}

func (s *FakeSession) Fill(_ context.Context, selector, value string) error {
	if _, err := s.find(selector); err != nil {
		return err
	}
	s.record("fill:" + selector + "=" + value)
	return nil
}

func (s *FakeSession) WaitForSelector(
	_ context.Context, selector string, _ time.Duration,
) error {
	_, err := s.find(selector)
	return err
}

func (s *FakeSession) TextContent(
	_ context.Context, scope string,
) (string, error) {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return "", nil
	}
	if scope == "" || scope == browser.DefaultScope {
		return p.Text, nil
	}
	el, err := s.find(scope)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (s *FakeSession) IsVisible(
	_ context.Context, selector string,
) (bool, error) {
	s.record("visible:" + selector)
	_, err := s.find(selector)
	return err == nil, nil
}

func (s *FakeSession) Request(
	ctx context.Context, method, url string, body []byte,
) (*client.Response, error) {
	s.record("request:" + method + " " + url)
	if s.launcher.Client == nil {
		return nil, ErrNoClient
	}
	return s.launcher.Client.Do(ctx, method, url, body)
}

func (s *FakeSession) Screenshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrPageNotFound
	}
	return s.current.Screenshot, nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Headless reports the mode the session was launched in
func (s *FakeSession) Headless() bool {
	return s.headless
}

// Actions returns the recorded page interactions in order
func (s *FakeSession) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.actions)
}

func (s *FakeSession) record(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

func (s *FakeSession) find(selector string) (*FakeElement, error) {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p != nil {
		if word, ok := strings.CutPrefix(selector, browser.TextPrefix); ok {
			word = strings.ToLower(word)
			for _, key := range slices.Sorted(maps.Keys(p.Elements)) {
				el := p.Elements[key]
				if !el.Hidden && strings.Contains(strings.ToLower(el.Text), word) {
					return el, nil
				}
			}
		} else if el, ok := p.Elements[selector]; ok && !el.Hidden {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: timeout waiting for selector %q",
		browser.ErrNotFound, selector)
}
