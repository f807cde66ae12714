package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamps_MarkAndRecent(t *testing.T) {
	t.Parallel()
	ts := NewTimestamps(2 * time.Minute)

	assert.False(t, ts.Recent("issue1:planner"))
	ts.Mark("issue1:planner")
	assert.True(t, ts.Recent("issue1:planner"))
}

func TestTimestamps_ExpiresAfterWindow(t *testing.T) {
	t.Parallel()
	ts := NewTimestamps(50 * time.Millisecond)
	ts.Mark("issue1:planner")
	require.True(t, ts.Recent("issue1:planner"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, ts.Recent("issue1:planner"))
}

func TestTimestamps_Clear(t *testing.T) {
	t.Parallel()
	ts := NewTimestamps(time.Minute)
	ts.Mark("issue1:planner")
	require.True(t, ts.Recent("issue1:planner"))

	ts.Clear("issue1:planner")
	assert.False(t, ts.Recent("issue1:planner"))
}
