package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/marionette/internal/assert/helpers"
	"github.com/kode4food/marionette/internal/flow"
)

func TestHealTokens(t *testing.T) {
	assert.Equal(t,
		[]string{"Click", "Login", "button"},
		flow.HealTokens("Click the Login button"),
	)
	assert.Empty(t, flow.HealTokens("go to it"))
	assert.Empty(t, flow.HealTokens(""))
}

func TestHealTokensCountCharacters(t *testing.T) {
	assert.Equal(t,
		[]string{"café", "Über"},
		flow.HealTokens("añó café Über día"),
	)
}

func TestHealFirstVisibleMatchWins(t *testing.T) {
	ctx := context.Background()
	l := helpers.NewFakeLauncher(map[string]*helpers.FakePage{
		"http://app": {
			Elements: map[string]*helpers.FakeElement{
				"#a": {Text: "Submit order"},
				"#b": {Text: "Login", Hidden: true},
				"#c": {Text: "Cancel"},
			},
		},
	})
	sess, err := l.Launch(ctx, true)
	require.NoError(t, err)
	require.NoError(t, sess.Goto(ctx, "http://app"))

	sel, ok := flow.Heal(ctx, sess, "Login then Submit or Cancel")
	assert.True(t, ok)
	assert.Equal(t, "text=Submit", sel)

	fs := l.Sessions()[0]
	assert.Equal(t, []string{
		"goto:http://app",
		"visible:text=Login",
		"visible:text=then",
		"visible:text=Submit",
	}, fs.Actions())
}

func TestHealNoMatch(t *testing.T) {
	ctx := context.Background()
	l := helpers.NewFakeLauncher(helpers.ExamplePages())
	sess, err := l.Launch(ctx, true)
	require.NoError(t, err)
	require.NoError(t, sess.Goto(ctx, "https://example.com"))

	_, ok := flow.Heal(ctx, sess, "Press the Checkout thing")
	assert.False(t, ok)
}
