package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/marionette/pkg/api"
)

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "home-page", api.SanitizeID("Home Page"))
	assert.Equal(t, "login.v2", api.SanitizeID("Login.v2!"))
	assert.Equal(t, "trimmed", api.SanitizeID(" -trimmed- "))
	assert.Equal(t, "", api.SanitizeID("///"))
}

func TestSuiteRunKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t,
		"suite-smoke-login-flow-1700000000123",
		api.SuiteRunKey("Smoke", "Login Flow", at),
	)
	assert.Equal(t,
		"suite-all-checkout-1700000000123",
		api.SuiteRunKey("", "checkout", at),
	)
}

func TestSnapshotNameOrDefault(t *testing.T) {
	s := &api.Step{ID: "S1", SnapshotName: "Home Page"}
	assert.Equal(t, "home-page", s.SnapshotNameOrDefault())

	s = &api.Step{ID: "S1"}
	assert.Equal(t, "snapshot-s1", s.SnapshotNameOrDefault())

	s = &api.Step{}
	assert.Equal(t, "snapshot", s.SnapshotNameOrDefault())
}
