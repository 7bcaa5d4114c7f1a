package flow

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/kode4food/marionette/internal/browser"
)

// MinHealTokenLen is the number of characters a description word must
// exceed to be tried as a healing candidate
const MinHealTokenLen = 3

// HealTokens splits a step description into the words that may identify
// the intended element, in their original order
func HealTokens(description string) []string {
	var res []string
	for _, w := range strings.Fields(description) {
		if utf8.RuneCountInString(w) > MinHealTokenLen {
			res = append(res, w)
		}
	}
	return res
}

// Heal looks for the first description token that matches a visible
// element by text and returns a selector for it. It makes a single pass and
// checks each token at most once
func Heal(
	ctx context.Context, sess browser.Session, description string,
) (string, bool) {
	for _, word := range HealTokens(description) {
		if ctx.Err() != nil {
			return "", false
		}
		sel := browser.TextSelector(word)
		visible, err := sess.IsVisible(ctx, sel)
		if err == nil && visible {
			return sel, true
		}
	}
	return "", false
}
