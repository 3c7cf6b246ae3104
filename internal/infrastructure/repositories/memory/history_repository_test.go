package memory

import (
	"context"
	"testing"
	"time"

	"meshcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHistoryRepository_AddAndList(t *testing.T) {
	repo := NewMemoryHistoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, code := range []string{"standup", "retro", "planning"} {
		require.NoError(t, repo.Add(ctx, &domain.MeetingRecord{
			UserID:      "u1",
			MeetingCode: code,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, repo.Add(ctx, &domain.MeetingRecord{UserID: "u2", MeetingCode: "standup", CreatedAt: base}))

	records, err := repo.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "planning", records[0].MeetingCode)
	assert.Equal(t, "retro", records[1].MeetingCode)
	assert.Equal(t, "standup", records[2].MeetingCode)

	limited, err := repo.ListByUser(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repo.ListByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryHistoryRepository_DuplicatesPerUser(t *testing.T) {
	repo := NewMemoryHistoryRepository()
	ctx := context.Background()
	record := &domain.MeetingRecord{UserID: "u1", MeetingCode: "retro", CreatedAt: time.Now()}

	require.NoError(t, repo.Add(ctx, record))
	assert.ErrorIs(t, repo.Add(ctx, record), domain.ErrMeetingExists)

	ok, err := repo.Exists(ctx, "u1", "retro")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "u2", "retro")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryHistoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryHistoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Add(ctx, &domain.MeetingRecord{UserID: "u1", MeetingCode: "retro"}))

	records, err := repo.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	records[0].MeetingCode = "mutated"

	ok, err := repo.Exists(ctx, "u1", "retro")
	require.NoError(t, err)
	assert.True(t, ok)
}
