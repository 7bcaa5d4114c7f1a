package browser_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/marionette/internal/browser"
)

func TestIsNotFound(t *testing.T) {
	wrapped := fmt.Errorf("%w: #missing", browser.ErrNotFound)
	assert.True(t, browser.IsNotFound(wrapped))
	assert.False(t, browser.IsNotFound(errors.New("net::ERR_FAILED")))
	assert.False(t, browser.IsNotFound(nil))
}

func TestTextSelector(t *testing.T) {
	assert.Equal(t, "text=Login", browser.TextSelector("Login"))
}
