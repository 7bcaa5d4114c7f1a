package helpers

import (
	"context"
	"sync"
)

// PageObjects is an in-memory flow.PageStore
type PageObjects struct {
	selectors map[string]map[string]string
	err       error
	mu        sync.Mutex
}

// NewPageObjects creates an empty page object store
func NewPageObjects() *PageObjects {
	return &PageObjects{selectors: map[string]map[string]string{}}
}

// Add records a concrete selector for page.name
func (p *PageObjects) Add(page, name, selector string) *PageObjects {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selectors[page] == nil {
		p.selectors[page] = map[string]string{}
	}
	p.selectors[page][name] = selector
	return p
}

// SetError makes every lookup fail with err
func (p *PageObjects) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *PageObjects) GetSelector(
	_ context.Context, page, name string,
) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", false, p.err
	}
	sel, ok := p.selectors[page][name]
	return sel, ok, nil
}
