package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/repo"
)

// newTestDB opens a private in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingQueue captures enqueued CRM jobs.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []CRMJob
}

func (q *recordingQueue) Enqueue(job CRMJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *recordingQueue) Jobs() []CRMJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]CRMJob(nil), q.jobs...)
}

var testNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func newAccountService(db *gorm.DB, c *clock) *AccountService {
	return &AccountService{
		DB:         db,
		Quota:      &QuotaEngine{FreeDailyLimit: 5, PremiumDailyLimit: 1000, Location: time.UTC, Now: c.Now},
		SessionGap: 30 * time.Minute,
	}
}

// seedAccount inserts a live account; mutate adjusts it before insert.
func seedAccount(t *testing.T, db *gorm.DB, id string, mutate func(a *domain.Account)) *domain.Account {
	t.Helper()
	a := &domain.Account{
		ID:                 id,
		Auth0Sub:           "auth0|" + id,
		Email:              id + "@example.com",
		SubscriptionStatus: domain.StatusFree,
		IsActive:           true,
	}
	if mutate != nil {
		mutate(a)
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func mustAccount(t *testing.T, db *gorm.DB, id string) *domain.Account {
	t.Helper()
	var a domain.Account
	if err := db.Unscoped().Where("id = ?", id).First(&a).Error; err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return &a
}

func ptrTime(t time.Time) *time.Time { return &t }
