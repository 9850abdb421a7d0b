package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/repository"
)

func TestPointsAwardAndConsumeKeepLedger(t *testing.T) {
	env := setupServiceTest(t, "")
	user := env.createUser(t, "openid-ledger")
	ctx := context.Background()

	if _, err := env.points.Award(ctx, AwardInput{UserID: user.ID, Points: 80}); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	record, err := env.points.Consume(ctx, ConsumeInput{UserID: user.ID, Points: 30, Description: "兑换咖啡券"})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if record.PointsChange != -30 || record.BalanceAfter != 50 || record.Source != constants.PointsSourceMallConsumption {
		t.Fatalf("unexpected consume record: %+v", record)
	}
	if record.ExpiresAt != nil {
		t.Fatalf("consume record must not carry expires_at")
	}
	if _, err := env.points.Adjust(ctx, AdjustInput{UserID: user.ID, Delta: 7, Description: "客服补偿"}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	if balance := env.reloadUser(t, user.ID).PointsBalance; balance != 57 {
		t.Fatalf("expected balance 57, got %d", balance)
	}
	if err := env.points.VerifyLedger(user.ID); err != nil {
		t.Fatalf("ledger should be consistent: %v", err)
	}

	records, total, err := env.points.ListRecords(repository.PointsRecordListFilter{UserID: user.ID, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if total != 3 || len(records) != 3 {
		t.Fatalf("expected 3 records, got total=%d len=%d", total, len(records))
	}
	filtered, total, err := env.points.ListRecords(repository.PointsRecordListFilter{
		UserID: user.ID,
		Source: constants.PointsSourceAdminAdjust,
	})
	if err != nil {
		t.Fatalf("list filtered records failed: %v", err)
	}
	if total != 1 || filtered[0].PointsChange != 7 {
		t.Fatalf("unexpected filtered records: total=%d %+v", total, filtered)
	}
	if _, _, err := env.points.ListRecords(repository.PointsRecordListFilter{UserID: user.ID, Source: "lottery"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown source should fail validation, got %v", err)
	}
}

func TestPointsRejectsInvalidChanges(t *testing.T) {
	env := setupServiceTest(t, "")
	user := env.createUser(t, "openid-invalid")
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"award zero", func() error {
			_, err := env.points.Award(ctx, AwardInput{UserID: user.ID, Points: 0})
			return err
		}, ErrInvalidPoints},
		{"consume negative", func() error {
			_, err := env.points.Consume(ctx, ConsumeInput{UserID: user.ID, Points: -5})
			return err
		}, ErrInvalidPoints},
		{"consume above balance", func() error {
			_, err := env.points.Consume(ctx, ConsumeInput{UserID: user.ID, Points: 1})
			return err
		}, ErrInsufficientBalance},
		{"adjust below zero", func() error {
			_, err := env.points.Adjust(ctx, AdjustInput{UserID: user.ID, Delta: -1})
			return err
		}, ErrInsufficientBalance},
		{"unknown user", func() error {
			_, err := env.points.Award(ctx, AwardInput{UserID: user.ID + 1000, Points: 1})
			return err
		}, ErrUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if got := env.countRecords(t, user.ID, constants.PointsSourceMallConsumption); got != 0 {
		t.Fatalf("rejected changes must not write records, got %d", got)
	}
}

func TestPointsConcurrentConsumeNeverOverdraws(t *testing.T) {
	env := setupServiceTest(t, "")
	user := env.createUser(t, "openid-concurrent")
	ctx := context.Background()
	if _, err := env.points.Award(ctx, AwardInput{UserID: user.ID, Points: 100}); err != nil {
		t.Fatalf("award failed: %v", err)
	}

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.points.Consume(ctx, ConsumeInput{UserID: user.ID, Points: 30})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("expected 3 successful consumes, got %d", succeeded)
	}
	if balance := env.reloadUser(t, user.ID).PointsBalance; balance != 10 {
		t.Fatalf("expected balance 10, got %d", balance)
	}
	if err := env.points.VerifyLedger(user.ID); err != nil {
		t.Fatalf("ledger should be consistent: %v", err)
	}
}

func TestSweepExpiredDeductsDueRewards(t *testing.T) {
	env := setupServiceTest(t, "")
	user := env.createUser(t, "openid-expire")
	other := env.createUser(t, "openid-expire-other")
	ctx := context.Background()

	if _, err := env.points.Award(ctx, AwardInput{UserID: user.ID, Points: 40}); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	if _, err := env.points.Award(ctx, AwardInput{UserID: user.ID, Points: 20}); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	if _, err := env.points.Consume(ctx, ConsumeInput{UserID: user.ID, Points: 50}); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	// 管理员调整不设置过期时间
	if _, err := env.points.Adjust(ctx, AdjustInput{UserID: other.ID, Delta: 15}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	now := time.Now().AddDate(0, 0, 366)
	applied, err := env.points.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected one user processed, got %d", applied)
	}
	// 到期 60 分，余额只有 10，扣到 0 为止
	if balance := env.reloadUser(t, user.ID).PointsBalance; balance != 0 {
		t.Fatalf("expected balance 0 after expiry, got %d", balance)
	}
	if balance := env.reloadUser(t, other.ID).PointsBalance; balance != 15 {
		t.Fatalf("adjusted points must not expire, got %d", balance)
	}
	var deduct models.PointsRecord
	if err := env.db.Where("user_id = ? AND source = ?", user.ID, constants.PointsSourceExpiredDeduct).First(&deduct).Error; err != nil {
		t.Fatalf("load expired deduct failed: %v", err)
	}
	if deduct.PointsChange != -10 || deduct.BalanceAfter != 0 {
		t.Fatalf("unexpected deduct record: %+v", deduct)
	}
	var markers int64
	env.db.Model(&models.PointsExpiry{}).Where("user_id = ?", user.ID).Count(&markers)
	if markers != 2 {
		t.Fatalf("expected 2 expiry markers, got %d", markers)
	}
	if err := env.points.VerifyLedger(user.ID); err != nil {
		t.Fatalf("ledger should be consistent: %v", err)
	}

	again, err := env.points.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", again)
	}
	if got := env.countRecords(t, user.ID, constants.PointsSourceExpiredDeduct); got != 1 {
		t.Fatalf("expected a single expired deduct record, got %d", got)
	}
}

func TestGetBalanceUsesCacheUntilInvalidated(t *testing.T) {
	env := setupServiceTest(t, "")
	user := env.createUser(t, "openid-balance")
	ctx := context.Background()

	if _, err := env.points.Award(ctx, AwardInput{UserID: user.ID, Points: 90}); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	if _, err := env.points.Consume(ctx, ConsumeInput{UserID: user.ID, Points: 25}); err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	summary, err := env.points.GetBalance(ctx, user.ID)
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if summary.Balance != 65 || summary.TotalEarned != 90 || summary.TotalSpent != 25 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ExpiringSoon != 0 {
		t.Fatalf("rewards expire in a year, expiring soon should be 0, got %d", summary.ExpiringSoon)
	}

	// 绕过服务直接改库，缓存命中时不应读到新值
	env.db.Model(&models.User{}).Where("id = ?", user.ID).Update("points_balance", 1)
	cached, err := env.points.GetBalance(ctx, user.ID)
	if err != nil {
		t.Fatalf("get cached balance failed: %v", err)
	}
	if cached.Balance != 65 {
		t.Fatalf("expected cached balance 65, got %d", cached.Balance)
	}

	env.points.InvalidateBalance(ctx, user.ID)
	fresh, err := env.points.GetBalance(ctx, user.ID)
	if err != nil {
		t.Fatalf("get fresh balance failed: %v", err)
	}
	if fresh.Balance != 1 {
		t.Fatalf("expected fresh balance 1, got %d", fresh.Balance)
	}
	if _, err := env.points.GetBalance(ctx, user.ID+1000); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestVerifyLedgerDetectsDrift(t *testing.T) {
	env := setupServiceTest(t, "")
	user := env.createUser(t, "openid-drift")
	if _, err := env.points.Award(context.Background(), AwardInput{UserID: user.ID, Points: 10}); err != nil {
		t.Fatalf("award failed: %v", err)
	}
	env.db.Model(&models.User{}).Where("id = ?", user.ID).Update("points_balance", 11)

	if err := env.points.VerifyLedger(user.ID); !errors.Is(err, ErrLedgerInconsistent) {
		t.Fatalf("expected ErrLedgerInconsistent, got %v", err)
	}
}

func TestPointsForAmountFloors(t *testing.T) {
	svc := NewPointsService(nil, nil, nil, testServiceConfig().Points)
	cases := map[int64]int64{
		-1:    0,
		0:     0,
		99:    0,
		100:   1,
		5000:  50,
		12345: 123,
	}
	for amount, want := range cases {
		if got := svc.PointsForAmount(amount); got != want {
			t.Fatalf("amount %d: expected %d points, got %d", amount, want, got)
		}
	}
}
