//go:build integration
// +build integration

package repository

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	cleanupModels := []interface{}{
		&models.PointsExpiry{},
		&models.PointsRecord{},
		&models.PaymentOrder{},
		&models.CallbackLog{},
		&models.Merchant{},
		&models.User{},
	}
	_ = db.Migrator().DropTable(cleanupModels...)

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(cleanupModels...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresConcurrentMarkPaidSingleWinner(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewPaymentOrderRepository(db)

	user := models.User{OpenID: "pg-openid", Status: constants.UserStatusActive}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	order := &models.PaymentOrder{
		OrderNo:    "PG-JF-001",
		UserID:     user.ID,
		MerchantID: 1,
		Amount:     5000,
		Status:     constants.OrderStatusPending,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				ok, err := repo.WithTx(tx).MarkPaid(order.ID, fmt.Sprintf("pg-txn-%d", i), 50, time.Now())
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				t.Errorf("mark paid tx failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestPostgresCallbackLogJSONFilter(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewCallbackLogRepository(db)
	if err := repo.Create(&models.CallbackLog{
		OrderNo: "PG-JF-002",
		Body:    []byte(`{"transaction_id":"pg-wx-1"}`),
		Result:  constants.CallbackResultSettled,
	}); err != nil {
		t.Fatalf("create callback log failed: %v", err)
	}
	logs, total, err := repo.List(CallbackLogListFilter{TransactionID: "pg-wx-1", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list callback logs failed: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("want 1 log got total=%d len=%d", total, len(logs))
	}
}

func TestPostgresStatsOverview(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewStatsRepository(db)
	now := time.Now().UTC()

	user := models.User{OpenID: "pg-stats", Status: constants.UserStatusActive}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if err := db.Create(&models.PointsRecord{
		UserID: user.ID, PointsChange: 30, BalanceAfter: 30,
		Source: constants.PointsSourcePaymentReward, CreatedAt: now,
	}).Error; err != nil {
		t.Fatalf("create record failed: %v", err)
	}

	overview, err := repo.GetOverview(now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("overview failed: %v", err)
	}
	if overview.PointsAwarded != 30 || overview.ActiveUsers != 1 {
		t.Fatalf("unexpected overview: %+v", overview)
	}
	trends, err := repo.GetPointsTrends(now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("trends failed: %v", err)
	}
	if len(trends) == 0 {
		t.Fatalf("expected trend rows")
	}
}
