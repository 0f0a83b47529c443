package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uppy/chat/internal/types"
)

func msg(id, conv, at string) types.Message {
	return types.Message{ID: id, ConversationID: conv, SenderID: "u", SenderType: types.RoleOperations, Text: id, CreatedAt: at}
}

func TestMemoryHistoryNewestFirst(t *testing.T) {
	st := NewMemory(0)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, msg("a", "c1", "2024-01-01T00:00:01.000Z")))
	require.NoError(t, st.Put(ctx, msg("b", "c1", "2024-01-01T00:00:02.000Z")))
	require.NoError(t, st.Put(ctx, msg("x", "c2", "2024-01-01T00:00:03.000Z")))
	require.NoError(t, st.Put(ctx, msg("c", "c1", "2024-01-01T00:00:03.000Z")))

	got, err := st.History(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	got, err = st.History(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryPutIsIdempotentAndOrdered(t *testing.T) {
	st := NewMemory(0)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, msg("late", "c", "2024-01-01T00:00:05.000Z")))
	require.NoError(t, st.Put(ctx, msg("early", "c", "2024-01-01T00:00:01.000Z")))
	require.NoError(t, st.Put(ctx, msg("late", "c", "2024-01-01T00:00:05.000Z")))

	got, err := st.History(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "late", got[0].ID)
	assert.Equal(t, "early", got[1].ID)
}

func TestMemoryCapDropsOldest(t *testing.T) {
	st := NewMemory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.Put(ctx, msg(fmt.Sprint(i), "c", fmt.Sprintf("2024-01-01T00:00:0%d.000Z", i))))
	}
	got, err := st.History(ctx, "c", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "4", got[0].ID)
	assert.Equal(t, "2", got[2].ID)
}

func TestEnrollments(t *testing.T) {
	src := NewEnrollments(map[string]string{"enr-1": "inf-1"})
	en, err := src.Enrollment(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, "inf-1", en.InfluencerID)

	_, err = src.Enrollment(context.Background(), "enr-2")
	assert.ErrorIs(t, err, ErrNotFound)

	src.Set(types.Enrollment{ID: "enr-2", InfluencerID: "inf-2"})
	en, err = src.Enrollment(context.Background(), "enr-2")
	require.NoError(t, err)
	assert.Equal(t, "inf-2", en.InfluencerID)
}
