package gameserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchqueue/internal/clock"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(clock.Real{})
	s1 := r.GetOrCreate("1.2.3.4", 27960, "inst-1")
	s2 := r.GetOrCreate("1.2.3.4", 27960, "inst-1")
	assert.Same(t, s1, s2)
	assert.Equal(t, Idle, s1.ProcessingState())
}

func TestTryRemoveRequiresEmptyAndStopped(t *testing.T) {
	r := NewRegistry(clock.Real{})
	s := r.GetOrCreate("1.2.3.4", 27960, "inst-1")

	assert.True(t, s.TryStartProcessing(func() {}))
	assert.False(t, r.TryRemove(s.Key()), "running loop must block removal")

	s.Stop()
	s.SetProcessingState(Stopped)
	assert.True(t, r.TryRemove(s.Key()))

	_, ok := r.Get(s.Key())
	assert.False(t, ok)
}

func TestJoiningCountNeverGoesNegative(t *testing.T) {
	s := New("1.2.3.4", 27960, "inst-1", time.Now())
	s.DecJoiningCount()
	assert.Equal(t, 0, s.JoiningCount())
	s.IncJoiningCount()
	s.IncJoiningCount()
	s.DecJoiningCount()
	assert.Equal(t, 1, s.JoiningCount())
}

func TestTryStartProcessingRejectsDoubleStart(t *testing.T) {
	s := New("1.2.3.4", 27960, "inst-1", time.Now())
	require.True(t, s.TryStartProcessing(func() {}))
	assert.False(t, s.TryStartProcessing(func() {}))
}
