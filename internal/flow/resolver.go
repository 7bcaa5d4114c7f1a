package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kode4food/marionette/pkg/log"
)

type (
	// PageStore looks up concrete selectors recorded for page objects
	PageStore interface {
		GetSelector(
			ctx context.Context, page, name string,
		) (string, bool, error)
	}

	// Resolver turns Page.Name references into concrete selectors
	Resolver struct {
		pages PageStore
	}
)

const pomSeparator = "."

// NewResolver creates a resolver backed by pages. A nil store resolves
// nothing
func NewResolver(pages PageStore) *Resolver {
	return &Resolver{pages: pages}
}

// Resolve returns the concrete selector for a Page.Name reference, or the
// input unchanged when it is not a known reference. It never fails: lookup
// errors fall through to the literal selector
func (r *Resolver) Resolve(ctx context.Context, selector string) (string, bool) {
	if r.pages == nil || selector == "" {
		return selector, false
	}
	page, name, ok := strings.Cut(selector, pomSeparator)
	if !ok || page == "" || name == "" {
		return selector, false
	}
	concrete, ok, err := r.pages.GetSelector(ctx, page, name)
	if err != nil {
		slog.Warn("Page object lookup failed",
			slog.String("selector", selector),
			log.Error(err))
		return selector, false
	}
	if !ok || concrete == "" {
		return selector, false
	}
	return concrete, true
}
