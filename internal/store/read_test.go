package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/ir"
)

func TestReadSession_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadSession(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSessions_OrderedByID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	createTestSession(t, s, "b")
	createTestSession(t, s, "a")
	createTestSession(t, s, "c")

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
	assert.Equal(t, "c", sessions[2].ID)
}

func TestReadEvents_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestSession(t, s, "s1")

	// Insert out of order.
	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, s.WriteEvent(ctx, id, fireEvent(seq, "e", seq*10)))
	}

	events, err := s.ReadEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestReadEvents_FilterByKind(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestSession(t, s, "s1")

	require.NoError(t, s.WriteEvents(ctx, id, []ir.Event{
		fireEvent(1, "a", 0),
		{Seq: 2, Kind: ir.KindDrift, Name: "drift", AbsUs: 10},
		{Seq: 3, Kind: ir.KindLate, Name: "fire", AbsUs: 20},
		fireEvent(4, "b", 30),
	}))

	fires, err := s.ReadEvents(ctx, id, ir.KindFire)
	require.NoError(t, err)
	require.Len(t, fires, 2)
	assert.Equal(t, "a", fires[0].Name)
	assert.Equal(t, "b", fires[1].Name)

	anomalies, err := s.ReadEvents(ctx, id, ir.KindDrift, ir.KindLate)
	require.NoError(t, err)
	assert.Len(t, anomalies, 2)
}

func TestReadEvents_SessionsIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestSession(t, s, "a")
	b := createTestSession(t, s, "b")

	require.NoError(t, s.WriteEvent(ctx, a, fireEvent(1, "in-a", 0)))
	require.NoError(t, s.WriteEvent(ctx, b, fireEvent(1, "in-b", 0)))

	events, err := s.ReadEvents(ctx, a)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "in-a", events[0].Name)
}
