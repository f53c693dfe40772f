package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UserStats aggregates decision counts for a single user.
type UserStats struct {
	UserID     string
	Total      int64
	Finalized  int64
	InProgress int64
	LastAt     string
}

// PruneInProgress removes decisions across all users that were created before
// cutoff and never received a final choice.
func (d *Database) PruneInProgress(ctx context.Context, cutoff time.Time) (int64, error) {
	if d == nil {
		return 0, errors.New("database is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.WithContext(ctx).
		Where("created_at < ? AND (final_choice IS NULL OR final_choice = '')", cutoff.UTC()).
		Delete(&Decision{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune in-progress decisions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats returns per-user decision counts ordered by volume.
func (d *Database) Stats(ctx context.Context) ([]UserStats, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	var rows []UserStats
	query := d.gorm.WithContext(ctx).Table("decisions").
		Select(`user_id,
			COUNT(*) AS total,
			SUM(CASE WHEN final_choice IS NOT NULL AND final_choice <> '' THEN 1 ELSE 0 END) AS finalized,
			SUM(CASE WHEN final_choice IS NULL OR final_choice = '' THEN 1 ELSE 0 END) AS in_progress,
			MAX(created_at) AS last_at`).
		Group("user_id").
		Order("total DESC")
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("decision stats: %w", err)
	}
	return rows, nil
}

// Optimize re-applies indexes and refreshes SQLite planner statistics.
func (d *Database) Optimize(ctx context.Context, vacuum bool) error {
	if d == nil {
		return errors.New("database is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	db := d.gorm.WithContext(ctx)
	if err := applyIndexes(db); err != nil {
		return fmt.Errorf("apply indexes: %w", err)
	}
	if err := db.Exec("ANALYZE").Error; err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if vacuum {
		if err := db.Exec("VACUUM").Error; err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
