package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_OpenPassesThrough(t *testing.T) {
	s, _, _ := newTestScheduler(t, 0.05)
	g := s.Gate()

	var order []string
	require.NoError(t, s.Play(Seq(g.Action(), mark(&order, "a"))))

	assert.True(t, g.IsOpen())
	assert.Equal(t, []string{"a"}, order)
	assert.Equal(t, 0, g.Pending())
}

func TestGate_ClosedParksUntilOpen(t *testing.T) {
	s, d, ft := newTestScheduler(t, 0.05)
	g := s.Gate()
	g.Close()

	var log []firing
	require.NoError(t, s.Play(Seq(g.Action(), recordFire(&log, "a", ft))))
	require.NoError(t, d.StepN(4))

	assert.Empty(t, log)
	assert.Equal(t, 1, g.Pending())

	g.Open()
	assert.Empty(t, log, "release happens on the next sweep")

	require.NoError(t, d.Step())
	require.Len(t, log, 1)
	assert.GreaterOrEqual(t, log[0].abs, 0.2-eps, "released clock is re-anchored to the master clock")
	assert.Equal(t, 0, g.Pending())
}

func TestGate_ReleasedOrderPreserved(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()
	g.Close()

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Play(Seq(g.Action(), mark(&order, name))))
	}
	g.Open()
	require.NoError(t, d.Step())

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestGate_PushPopMergesCaches(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()
	g.Close()

	var order []string
	require.NoError(t, s.Play(Seq(g.Action(), mark(&order, "a"))))

	g.Push()
	require.NoError(t, s.Play(Seq(g.Action(), mark(&order, "b"))))
	assert.Equal(t, 1, g.Pending(), "inner scope starts with an empty cache")

	require.True(t, g.Pop())
	assert.Equal(t, 2, g.Pending())
	assert.False(t, g.IsOpen())

	g.Open()
	require.NoError(t, d.Step())
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestGate_InnerOpenDoesNotReleaseOuter(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()
	g.Close()

	var order []string
	require.NoError(t, s.Play(Seq(g.Action(), mark(&order, "a"))))

	g.Push()
	g.Open()
	require.NoError(t, s.Play(Seq(g.Action(), mark(&order, "c"))))
	require.NoError(t, d.Step())
	assert.Equal(t, []string{"c"}, order)

	require.True(t, g.Pop())
	assert.False(t, g.IsOpen(), "outer state restored")
	require.NoError(t, d.Step())
	assert.Equal(t, []string{"c"}, order)

	g.Open()
	require.NoError(t, d.Step())
	assert.Equal(t, []string{"c", "a"}, order)
}

func TestGate_PopToOpenReleases(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()

	var order []string
	g.Push()
	g.Close()
	require.NoError(t, s.Play(Seq(g.Action(), mark(&order, "b"))))

	require.True(t, g.Pop())
	assert.True(t, g.IsOpen())
	require.NoError(t, d.Step())
	assert.Equal(t, []string{"b"}, order)
}

func TestGate_PopEmpty(t *testing.T) {
	s, _, _ := newTestScheduler(t, 0.05)
	assert.False(t, s.Gate().Pop())
}

func TestGate_Cancel(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()
	g.Close()

	ran := false
	require.NoError(t, s.Play(Seq(g.Action(), Fire(func(*Clock) { ran = true }))))

	assert.Equal(t, 1, g.Cancel())
	g.Open()
	require.NoError(t, d.StepN(2))
	assert.False(t, ran)
}

func TestGate_Toggle(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()

	g.Toggle()
	assert.False(t, g.IsOpen())

	ran := false
	require.NoError(t, s.Play(Seq(g.Action(), Fire(func(*Clock) { ran = true }))))

	g.Toggle()
	assert.True(t, g.IsOpen())
	require.NoError(t, d.Step())
	assert.True(t, ran)
}

func TestGate_OpenTwiceReleasesOnce(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()
	g.Close()

	count := 0
	require.NoError(t, s.Play(Seq(g.Action(), Fire(func(*Clock) { count++ }))))

	g.Open()
	g.Open()
	require.NoError(t, d.StepN(2))
	assert.Equal(t, 1, count)
}

func TestGate_InsideLoop(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()

	count := 0
	require.NoError(t, s.Play(Loop(Seq(Wait(0.1), Seq(g.Action(), Fire(func(*Clock) { count++ }))))))

	require.NoError(t, d.RunUntil(0.5))
	g.Close()
	paused := count
	require.NoError(t, d.StepN(20))
	assert.LessOrEqual(t, count, paused+1, "at most the in-flight iteration completes")

	g.Open()
	require.NoError(t, d.StepN(20))
	assert.Greater(t, count, paused+1, "loop resumes after open")
}

func TestGate_ReleaseSurvivesFailingContinuation(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)
	g := s.Gate()
	g.Close()

	first, second := 0, 0
	require.NoError(t, s.Play(Seq(g.Action(), Fire(func(*Clock) {
		first++
		panic("first continuation")
	}))))
	require.NoError(t, s.Play(Seq(g.Action(), Fire(func(*Clock) { second++ }))))
	require.Equal(t, 2, g.Pending())

	g.Open()
	err := d.Step()
	require.Error(t, err)
	assert.ErrorContains(t, err, "panic: first continuation")

	require.NoError(t, d.StepN(3))
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second, "second parked action is still released")
}
