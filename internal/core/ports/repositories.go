package ports

import (
	"context"

	"meshcall/internal/core/domain"
)

type HistoryRepository interface {
	Add(ctx context.Context, record *domain.MeetingRecord) error
	Exists(ctx context.Context, userID domain.UserID, meetingCode string) (bool, error)
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.MeetingRecord, error)
}
