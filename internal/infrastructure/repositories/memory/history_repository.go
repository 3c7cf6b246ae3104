package memory

import (
	"context"
	"sort"
	"sync"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

type MemoryHistoryRepository struct {
	records map[domain.UserID][]*domain.MeetingRecord
	mu      sync.RWMutex
}

func NewMemoryHistoryRepository() ports.HistoryRepository {
	return &MemoryHistoryRepository{
		records: make(map[domain.UserID][]*domain.MeetingRecord),
	}
}

func (r *MemoryHistoryRepository) Add(ctx context.Context, record *domain.MeetingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.records[record.UserID] {
		if existing.MeetingCode == record.MeetingCode {
			return domain.ErrMeetingExists
		}
	}

	stored := *record
	r.records[record.UserID] = append(r.records[record.UserID], &stored)
	return nil
}

func (r *MemoryHistoryRepository) Exists(ctx context.Context, userID domain.UserID, meetingCode string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.records[userID] {
		if record.MeetingCode == meetingCode {
			return true, nil
		}
	}
	return false, nil
}

// ListByUser returns copies, newest first. limit <= 0 means no limit.
func (r *MemoryHistoryRepository) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.MeetingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.records[userID]
	result := make([]*domain.MeetingRecord, 0, len(stored))
	for _, record := range stored {
		cp := *record
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
