package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Valid(t *testing.T) {
	t.Parallel()
	for _, s := range []Status{StatusIdle, StatusInitializing, StatusRunning, StatusExecutingTool,
		StatusPaused, StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, s.Valid(), s.String())
	}
	assert.False(t, Status("").Valid())
	assert.False(t, Status("sleeping").Valid())
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusExecutingTool.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestValidTransition(t *testing.T) {
	t.Parallel()
	allowed := [][2]Status{
		{StatusIdle, StatusInitializing},
		{StatusInitializing, StatusRunning},
		{StatusRunning, StatusExecutingTool},
		{StatusExecutingTool, StatusRunning},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusPaused},
		{StatusPaused, StatusRunning},
		{StatusExecutingTool, StatusFailed},
		{StatusIdle, StatusFailed},
	}
	for _, tr := range allowed {
		assert.True(t, ValidTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	rejected := [][2]Status{
		{StatusIdle, StatusRunning},
		{StatusInitializing, StatusExecutingTool},
		{StatusExecutingTool, StatusCompleted},
		{StatusPaused, StatusCompleted},
		{StatusCompleted, StatusRunning},
		{StatusFailed, StatusInitializing},
		{StatusRunning, StatusRunning},
	}
	for _, tr := range rejected {
		assert.False(t, ValidTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}
