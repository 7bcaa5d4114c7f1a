package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/marionette/pkg/util"
)

func TestSetOf(t *testing.T) {
	s := util.SetOf("start", "login", "start")
	assert.Len(t, s, 2)
	assert.True(t, s.Contains("start"))
	assert.True(t, s.Contains("login"))
	assert.False(t, s.Contains("end"))
}

func TestAddReportsFirstVisit(t *testing.T) {
	visited := util.Set[string]{}
	var order []string
	for _, id := range []string{"start", "check", "start", "end", "check"} {
		if visited.Add(id) {
			order = append(order, id)
		}
	}
	assert.Equal(t, []string{"start", "check", "end"}, order)
}

func TestRemoveConsumesOnce(t *testing.T) {
	pending := util.SetOf("run-1", "run-2")
	assert.True(t, pending.Remove("run-1"))
	assert.False(t, pending.Remove("run-1"))
	assert.False(t, pending.Remove("run-3"))
	assert.Equal(t, util.SetOf("run-2"), pending)
}
