package services

import (
	"context"
	"errors"
	"testing"

	"meshcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Add(ctx context.Context, record *domain.MeetingRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockHistoryRepository) Exists(ctx context.Context, userID domain.UserID, meetingCode string) (bool, error) {
	args := m.Called(ctx, userID, meetingCode)
	return args.Bool(0), args.Error(1)
}

func (m *MockHistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.MeetingRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MeetingRecord), args.Error(1)
}

func TestHistoryService_Record(t *testing.T) {
	ctx := context.Background()
	repo := new(MockHistoryRepository)
	svc := NewHistoryService(repo)

	repo.On("Exists", mock.Anything, domain.UserID("u1"), "standup").Return(false, nil)
	repo.On("Add", mock.Anything, mock.MatchedBy(func(r *domain.MeetingRecord) bool {
		return r.UserID == "u1" && r.MeetingCode == "standup" && !r.CreatedAt.IsZero()
	})).Return(nil)

	record, err := svc.Record(ctx, "u1", "  standup ")
	require.NoError(t, err)
	assert.Equal(t, "standup", record.MeetingCode)
	repo.AssertExpectations(t)
}

func TestHistoryService_RecordDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := new(MockHistoryRepository)
	svc := NewHistoryService(repo)

	repo.On("Exists", mock.Anything, domain.UserID("u1"), "standup").Return(true, nil)

	_, err := svc.Record(ctx, "u1", "standup")
	assert.ErrorIs(t, err, domain.ErrMeetingExists)
	repo.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestHistoryService_RecordValidation(t *testing.T) {
	svc := NewHistoryService(new(MockHistoryRepository))

	_, err := svc.Record(context.Background(), "", "standup")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Record(context.Background(), "u1", "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidRoomID)
}

func TestHistoryService_RecordRepositoryError(t *testing.T) {
	ctx := context.Background()
	repo := new(MockHistoryRepository)
	svc := NewHistoryService(repo)
	boom := errors.New("boom")

	repo.On("Exists", mock.Anything, domain.UserID("u1"), "standup").Return(false, boom)

	_, err := svc.Record(ctx, "u1", "standup")
	assert.ErrorIs(t, err, boom)
}

func TestHistoryService_ListUsesLimit(t *testing.T) {
	ctx := context.Background()
	repo := new(MockHistoryRepository)
	svc := NewHistoryService(repo)

	records := []*domain.MeetingRecord{{UserID: "u1", MeetingCode: "b"}, {UserID: "u1", MeetingCode: "a"}}
	repo.On("ListByUser", mock.Anything, domain.UserID("u1"), HistoryListLimit).Return(records, nil)

	got, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, records, got)
	repo.AssertExpectations(t)
}
