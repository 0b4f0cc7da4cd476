package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func contextTODO() context.Context { return context.TODO() }

func TestPickRoundRobin(t *testing.T) {
	r := New(nil)
	ctx := contextTODO()

	a, err := r.Register(ctx, &Server{ID: "a", Kinds: map[Capability]struct{}{CapChat: {}}})
	require.NoError(t, err)
	b, err := r.Register(ctx, &Server{ID: "b", Kinds: map[Capability]struct{}{CapChat: {}}})
	require.NoError(t, err)

	first, err := r.Pick(CapChat)
	require.NoError(t, err)
	second, err := r.Pick(CapChat)
	require.NoError(t, err)
	third, err := r.Pick(CapChat)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.ID, third.ID)
	require.ElementsMatch(t, []string{a.ID, b.ID}, []string{first.ID, second.ID})
}

func TestPickNoServerAvailable(t *testing.T) {
	r := New(nil)
	_, err := r.Pick(CapEmbeddings)
	require.ErrorIs(t, err, ErrNoServerAvailable)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New(nil)
	ctx := contextTODO()
	s, err := r.Register(ctx, &Server{ID: "a", Kinds: map[Capability]struct{}{CapChat: {}}})
	require.NoError(t, err)

	r.Unregister(s.ID)
	r.Unregister(s.ID) // must not panic or error

	_, err = r.Pick(CapChat)
	require.ErrorIs(t, err, ErrNoServerAvailable)
}

func TestListGroupsByCapability(t *testing.T) {
	r := New(nil)
	ctx := contextTODO()
	_, err := r.Register(ctx, &Server{ID: "a", Kinds: map[Capability]struct{}{CapChat: {}, CapEmbeddings: {}}})
	require.NoError(t, err)

	listed := r.List()
	require.Len(t, listed[CapChat], 1)
	require.Len(t, listed[CapEmbeddings], 1)
	require.Empty(t, listed[CapImage])
}

func TestPickSkipsUnhealthyServer(t *testing.T) {
	r := New(nil)
	ctx := contextTODO()
	a, err := r.Register(ctx, &Server{ID: "a", Kinds: map[Capability]struct{}{CapChat: {}}})
	require.NoError(t, err)
	b, err := r.Register(ctx, &Server{ID: "b", Kinds: map[Capability]struct{}{CapChat: {}}})
	require.NoError(t, err)

	r.MarkHealth(a.ID, false)
	r.MarkHealth(b.ID, true)

	for i := 0; i < 4; i++ {
		picked, err := r.Pick(CapChat)
		require.NoError(t, err)
		require.Equal(t, b.ID, picked.ID)
	}
}
