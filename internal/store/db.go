package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a decision does not exist for the caller.
	ErrNotFound = errors.New("decision not found")
	// ErrDuplicateID is returned when a decision id has already been used.
	ErrDuplicateID = errors.New("decision id already exists")
	// ErrAlreadyFinalized is returned when a final choice has already been recorded.
	ErrAlreadyFinalized = errors.New("decision already finalized")
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
	now  func() time.Time
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Decision{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db, now: time.Now}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDecision inserts a new decision. Ids are never reused.
func (d *Database) CreateDecision(ctx context.Context, decision *Decision) error {
	if decision == nil {
		return errors.New("decision is nil")
	}
	if strings.TrimSpace(decision.ID) == "" {
		return errors.New("decision id is required")
	}
	if strings.TrimSpace(decision.UserID) == "" {
		return errors.New("decision user is required")
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = d.now()
	}
	decision.CreatedAt = decision.CreatedAt.UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Decision{}).Where("id = ?", decision.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateID, decision.ID)
		}
		return tx.Create(decision).Error
	})
}

// GetDecision loads a decision owned by userID.
func (d *Database) GetDecision(ctx context.Context, userID, id string) (*Decision, error) {
	var decision Decision
	err := d.gorm.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&decision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &decision, nil
}

// DecisionOwner returns only the owning user of a decision, for ownership checks.
func (d *Database) DecisionOwner(ctx context.Context, id string) (string, error) {
	var owners []string
	if err := d.gorm.WithContext(ctx).Model(&Decision{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("user_id", &owners).Error; err != nil {
		return "", err
	}
	if len(owners) == 0 {
		return "", ErrNotFound
	}
	return owners[0], nil
}

// UpdateFinalChoice records the user's final choice. The update is scoped to the
// id and owner and only applies while no final choice is set.
func (d *Database) UpdateFinalChoice(ctx context.Context, userID, id, finalChoice string) (*Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.WithContext(ctx).Model(&Decision{}).
		Where("id = ? AND user_id = ? AND (final_choice IS NULL OR final_choice = '')", id, userID).
		Updates(map[string]any{
			"final_choice": finalChoice,
			"updated_at":   d.now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := d.GetDecision(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if existing.Finalized() {
			return nil, ErrAlreadyFinalized
		}
		return nil, fmt.Errorf("update final choice for %s: no rows affected", id)
	}
	return d.GetDecision(ctx, userID, id)
}

// ListDecisions returns every decision for userID, newest first.
func (d *Database) ListDecisions(ctx context.Context, userID string) ([]Decision, error) {
	var rows []Decision
	if err := d.gorm.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("rowid ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteDecision removes a single decision owned by userID.
func (d *Database) DeleteDecision(ctx context.Context, userID, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Decision{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteInProgress removes the user's decisions that never received a final choice.
func (d *Database) DeleteInProgress(ctx context.Context, userID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.WithContext(ctx).
		Where("user_id = ? AND (final_choice IS NULL OR final_choice = '')", userID).
		Delete(&Decision{})
	return res.RowsAffected, res.Error
}

// HistoryQuery selects prior decisions related to a set of keywords.
type HistoryQuery struct {
	Keywords           []string
	RequireAnswers     bool
	RequireFinalChoice bool
	Limit              int
}

// QueryHistory returns the user's decisions whose question or serialized options
// contain any keyword, newest first with ties kept in insertion order.
func (d *Database) QueryHistory(ctx context.Context, userID string, q HistoryQuery) ([]Decision, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	query := d.gorm.WithContext(ctx).Model(&Decision{}).Where("user_id = ?", userID)
	if q.RequireAnswers {
		query = query.Where("clarifying_answers_json IS NOT NULL AND clarifying_answers_json <> ''")
	}
	if q.RequireFinalChoice {
		query = query.Where("final_choice IS NOT NULL AND final_choice <> ''")
	}
	if len(q.Keywords) > 0 {
		conds := make([]string, 0, len(q.Keywords))
		vars := make([]any, 0, len(q.Keywords)*2)
		for _, kw := range q.Keywords {
			like := fmt.Sprintf("%%%s%%", strings.ToLower(kw))
			conds = append(conds, "LOWER(question) LIKE ? OR LOWER(options_json) LIKE ?")
			vars = append(vars, like, like)
		}
		query = query.Where("("+strings.Join(conds, " OR ")+")", vars...)
	}
	query = query.Order("created_at DESC").Order("rowid ASC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var rows []Decision
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return rows, nil
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_decisions_user_created ON decisions(user_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_decisions_user_final ON decisions(user_id, final_choice)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
