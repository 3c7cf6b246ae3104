package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/tracing"
)

// HistoryListLimit caps how many records a history listing returns.
const HistoryListLimit = 100

type historyService struct {
	repo ports.HistoryRepository
	now  func() time.Time
}

func NewHistoryService(repo ports.HistoryRepository) ports.HistoryService {
	return &historyService{repo: repo, now: time.Now}
}

// Record stores that userID took part in meetingCode. A code already in the
// user's history is reported as domain.ErrMeetingExists.
func (s *historyService) Record(ctx context.Context, userID domain.UserID, meetingCode string) (rec *domain.MeetingRecord, err error) {
	ctx, span := tracing.TraceHistoryOperation(ctx, "record", string(userID))
	defer func() {
		tracing.RecordError(ctx, err)
		span.End()
	}()

	code := strings.TrimSpace(meetingCode)
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if _, err := domain.NormalizeRoomID(code); err != nil {
		return nil, fmt.Errorf("meeting code: %w", err)
	}

	exists, err := s.repo.Exists(ctx, userID, code)
	if err != nil {
		return nil, fmt.Errorf("failed to check history: %w", err)
	}
	if exists {
		return nil, domain.ErrMeetingExists
	}

	record := &domain.MeetingRecord{
		UserID:      userID,
		MeetingCode: code,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Add(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to add history record: %w", err)
	}
	return record, nil
}

// List returns the user's meetings, newest first.
func (s *historyService) List(ctx context.Context, userID domain.UserID) (records []*domain.MeetingRecord, err error) {
	ctx, span := tracing.TraceHistoryOperation(ctx, "list", string(userID))
	defer func() {
		tracing.RecordError(ctx, err)
		span.End()
	}()

	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	records, err = s.repo.ListByUser(ctx, userID, HistoryListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return records, nil
}
