package subscription

import (
	"context"
	"errors"
	"time"

	gosqlmysql "github.com/go-sql-driver/mysql"
	"github.com/mailblog/core/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no subscription exists for an email.
	ErrNotFound = errors.New("subscription not found")
	// errStoreUnavailable is what handlers log when an outcome says the
	// store failed but the concrete error stayed inside the service.
	errStoreUnavailable = errors.New("subscription store unavailable")
	// ErrAlreadyExists is returned by Create when the email is taken.
	ErrAlreadyExists = errors.New("subscription already exists")
	// ErrConflict is returned by UpdateIf when the expected state did not
	// match, i.e. a concurrent request transitioned the record first.
	ErrConflict = errors.New("subscription state conflict")
)

// Expect is the prior state a conditional update matches against. All three
// fields are compared exactly; an empty Token matches a record whose token
// has been cleared.
type Expect struct {
	Status models.SubscriptionStatus
	Token  string
	Intent models.TokenIntent
}

// Change is the new state written by a conditional update.
type Change struct {
	Status models.SubscriptionStatus
	Token  string
	Intent models.TokenIntent
}

// Store is the persistence contract the state machine relies on. UpdateIf is
// the single concurrency primitive: a token-consuming transition is one
// conditional write, so two requests racing on the same token get exactly one
// success and one ErrConflict.
type Store interface {
	Get(ctx context.Context, email string) (*models.SubscriptionModel, error)
	Create(ctx context.Context, rec *models.SubscriptionModel) error
	UpdateIf(ctx context.Context, email string, expect Expect, change Change) error
}

const mysqlDupEntry = 1062

// GormStore is the MySQL-backed Store, plus the administrative queries that
// sit outside the state machine's contract.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) Get(ctx context.Context, email string) (*models.SubscriptionModel, error) {
	var rec models.SubscriptionModel
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Create(ctx context.Context, rec *models.SubscriptionModel) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	var mysqlErr *gosqlmysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupEntry {
		return ErrAlreadyExists
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

func (s *GormStore) UpdateIf(ctx context.Context, email string, expect Expect, change Change) error {
	result := s.db.WithContext(ctx).
		Model(&models.SubscriptionModel{}).
		Where("email = ? AND status = ? AND token = ? AND token_intent = ?",
			email, expect.Status, expect.Token, expect.Intent).
		Updates(map[string]interface{}{
			"status":       change.Status,
			"token":        change.Token,
			"token_intent": change.Intent,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// List returns subscriptions ordered by creation time descending.
func (s *GormStore) List(ctx context.Context, page, size int) ([]models.SubscriptionModel, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.SubscriptionModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recs []models.SubscriptionModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&recs).Error
	return recs, total, err
}

// Confirmed returns every confirmed subscription, for newsletter broadcast.
func (s *GormStore) Confirmed(ctx context.Context) ([]models.SubscriptionModel, error) {
	var recs []models.SubscriptionModel
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusConfirmed).
		Find(&recs).Error
	return recs, err
}

// CountByStatus returns the subscription count per lifecycle status.
func (s *GormStore) CountByStatus(ctx context.Context) (map[models.SubscriptionStatus]int64, error) {
	var rows []struct {
		Status models.SubscriptionStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.SubscriptionModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.SubscriptionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// ForceUnsubscribe marks the given emails (or all records) unsubscribed,
// clearing any live token. Records are never deleted: re-subscription
// re-enters the pending cycle on the same row.
func (s *GormStore) ForceUnsubscribe(ctx context.Context, emails []string, all bool) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SubscriptionModel{})
	if !all {
		if len(emails) == 0 {
			return 0, nil
		}
		query = query.Where("email IN ?", emails)
	}
	result := query.Where("status <> ?", models.StatusUnsubscribed).
		Updates(map[string]interface{}{
			"status":       models.StatusUnsubscribed,
			"token":        "",
			"token_intent": models.IntentNone,
		})
	return result.RowsAffected, result.Error
}

// PurgeStalePending hard-deletes pending records older than the cutoff whose
// verify link was never used. Hard delete, not soft: the unique email index
// must be free for a future subscribe to create a fresh row.
func (s *GormStore) PurgeStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Unscoped().
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Delete(&models.SubscriptionModel{})
	return result.RowsAffected, result.Error
}
