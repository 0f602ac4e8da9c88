package frontend

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/user/modforge/internal/database"
)

// Service persists run history. It doubles as the pipeline's RunRecorder.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) StartRun(ctx context.Context, run *database.Run) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (s *Service) FinishRun(ctx context.Context, runID, status, runErr string) error {
	updates := map[string]any{
		"status":      status,
		"error":       runErr,
		"finished_at": time.Now().Unix(),
	}
	result := s.db.WithContext(ctx).Model(&database.Run{}).Where("id = ?", runID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finishing run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("finishing run: no run with id %s", runID)
	}
	return nil
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]database.Run, error) {
	var runs []database.Run
	query := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
