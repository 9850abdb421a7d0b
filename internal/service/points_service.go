package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jifen-next/internal/cache"
	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/repository"

	"gorm.io/gorm"
)

const (
	pointsSweepBatchSize   = 500
	balanceConflictRetries = 3
)

// errBalanceConflict 余额条件更新未命中，整笔事务可重试
var errBalanceConflict = errors.New("points balance changed concurrently")

// PointsService 积分账本服务
// 余额为流水的投影：每次变动都在同一事务内锁定用户行、条件更新余额并追加流水。
type PointsService struct {
	userRepo     repository.UserRepository
	pointsRepo   repository.PointsRepository
	balanceCache BalanceCache
	cfg          config.PointsConfig
}

// NewPointsService 创建积分服务
func NewPointsService(userRepo repository.UserRepository, pointsRepo repository.PointsRepository, balanceCache BalanceCache, cfg config.PointsConfig) *PointsService {
	return &PointsService{
		userRepo:     userRepo,
		pointsRepo:   pointsRepo,
		balanceCache: balanceCache,
		cfg:          cfg,
	}
}

// AwardInput 发放积分输入
type AwardInput struct {
	UserID      uint
	Points      int64
	Source      string
	Description string
	OrderID     *uint
}

// ConsumeInput 消费积分输入
type ConsumeInput struct {
	UserID      uint
	Points      int64
	Description string
	OrderID     *uint
}

// AdjustInput 管理员调整积分输入
type AdjustInput struct {
	UserID      uint
	Delta       int64
	Description string
}

// BalanceSummary 积分概要
type BalanceSummary struct {
	UserID       uint  `json:"user_id"`
	Balance      int64 `json:"balance"`
	TotalEarned  int64 `json:"total_earned"`
	TotalSpent   int64 `json:"total_spent"`
	ExpiringSoon int64 `json:"expiring_soon"`
}

type ledgerChange struct {
	UserID      uint
	Delta       int64
	Source      string
	Description string
	OrderID     *uint
	ExpiresAt   *time.Time
	// clamp 为 true 时扣减不足部分直接截断为 0，用于退款回收
	clamp bool
}

// PointsPerUnit 多少分兑换 1 积分
func (s *PointsService) PointsPerUnit() int64 {
	if s.cfg.PointsPerUnit <= 0 {
		return 100
	}
	return s.cfg.PointsPerUnit
}

// PointsForAmount 按支付金额计算奖励积分（向下取整）
func (s *PointsService) PointsForAmount(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return amount / s.PointsPerUnit()
}

// Award 发放积分
func (s *PointsService) Award(ctx context.Context, input AwardInput) (*models.PointsRecord, error) {
	if input.Points <= 0 {
		return nil, ErrInvalidPoints
	}
	var record *models.PointsRecord
	err := s.withConflictRetry(func() error {
		return s.pointsRepo.Transaction(func(tx *gorm.DB) error {
			created, err := s.AwardInTx(tx, input)
			if err != nil {
				return err
			}
			record = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.InvalidateBalance(ctx, input.UserID)
	return record, nil
}

// AwardInTx 在调用方事务内发放积分，调用方提交后需自行失效余额缓存
func (s *PointsService) AwardInTx(tx *gorm.DB, input AwardInput) (*models.PointsRecord, error) {
	if input.Points <= 0 {
		return nil, ErrInvalidPoints
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = constants.PointsSourcePaymentReward
	}
	change := ledgerChange{
		UserID:      input.UserID,
		Delta:       input.Points,
		Source:      source,
		Description: cleanPointsDescription(input.Description, "积分发放"),
		OrderID:     input.OrderID,
	}
	if source == constants.PointsSourcePaymentReward {
		change.ExpiresAt = s.rewardExpiresAt(time.Now())
	}
	return s.applyChange(tx, change)
}

// Consume 消费积分，余额在锁内复核
func (s *PointsService) Consume(ctx context.Context, input ConsumeInput) (*models.PointsRecord, error) {
	if input.Points <= 0 {
		return nil, ErrInvalidPoints
	}
	var record *models.PointsRecord
	err := s.withConflictRetry(func() error {
		return s.pointsRepo.Transaction(func(tx *gorm.DB) error {
			created, err := s.applyChange(tx, ledgerChange{
				UserID:      input.UserID,
				Delta:       -input.Points,
				Source:      constants.PointsSourceMallConsumption,
				Description: cleanPointsDescription(input.Description, "积分商城消费"),
				OrderID:     input.OrderID,
			})
			if err != nil {
				return err
			}
			record = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.InvalidateBalance(ctx, input.UserID)
	return record, nil
}

// Adjust 管理员调整积分，扣减不能使余额为负
func (s *PointsService) Adjust(ctx context.Context, input AdjustInput) (*models.PointsRecord, error) {
	if input.Delta == 0 {
		return nil, ErrInvalidPoints
	}
	var record *models.PointsRecord
	err := s.withConflictRetry(func() error {
		return s.pointsRepo.Transaction(func(tx *gorm.DB) error {
			created, err := s.applyChange(tx, ledgerChange{
				UserID:      input.UserID,
				Delta:       input.Delta,
				Source:      constants.PointsSourceAdminAdjust,
				Description: cleanPointsDescription(input.Description, "管理员调整积分"),
			})
			if err != nil {
				return err
			}
			record = created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.InvalidateBalance(ctx, input.UserID)
	logger.Infow("points_admin_adjusted",
		"user_id", input.UserID,
		"delta", input.Delta,
		"balance_after", record.BalanceAfter,
	)
	return record, nil
}

// ClawbackInTx 退款时回收订单奖励积分，余额不足时只扣到 0；无可扣积分时返回 nil
// 订单奖励会同时写入处理标记，过期扫描不再重复扣减；奖励已过期处理过则不再回收
func (s *PointsService) ClawbackInTx(tx *gorm.DB, userID uint, points int64, orderID *uint, description string) (*models.PointsRecord, error) {
	if points <= 0 {
		return nil, nil
	}
	pointsRepo := s.pointsRepo.WithTx(tx)
	var reward *models.PointsRecord
	if orderID != nil {
		// 先锁用户行，与过期扫描串行
		if _, err := s.userRepo.WithTx(tx).GetByIDForUpdate(userID); err != nil {
			return nil, err
		}
		found, err := pointsRepo.GetRewardByOrderID(*orderID)
		if err != nil {
			return nil, err
		}
		if found != nil {
			marker, err := pointsRepo.GetExpiryByRewardID(found.ID)
			if err != nil {
				return nil, err
			}
			if marker != nil {
				logger.Infow("points_clawback_skipped_expired",
					"user_id", userID,
					"order_id", *orderID,
					"reward_record_id", found.ID,
				)
				return nil, nil
			}
		}
		reward = found
	}

	record, err := s.applyChange(tx, ledgerChange{
		UserID:      userID,
		Delta:       -points,
		Source:      constants.PointsSourceAdminAdjust,
		Description: cleanPointsDescription(description, "订单退款回收积分"),
		OrderID:     orderID,
		clamp:       true,
	})
	if err != nil {
		return nil, err
	}
	if reward != nil {
		marker := &models.PointsExpiry{
			RewardRecordID: reward.ID,
			UserID:         userID,
			Points:         reward.PointsChange,
			CreatedAt:      time.Now(),
		}
		if record != nil {
			marker.DeductRecordID = &record.ID
		}
		if err := pointsRepo.CreateExpiry(marker); err != nil {
			return nil, err
		}
	}
	return record, nil
}

func (s *PointsService) applyChange(tx *gorm.DB, change ledgerChange) (*models.PointsRecord, error) {
	userRepo := s.userRepo.WithTx(tx)
	pointsRepo := s.pointsRepo.WithTx(tx)

	user, err := userRepo.GetByIDForUpdate(change.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	before := user.PointsBalance
	delta := change.Delta
	if change.clamp && before+delta < 0 {
		delta = -before
	}
	if change.clamp && delta == 0 {
		return nil, nil
	}
	after := before + delta
	if after < 0 {
		return nil, ErrInsufficientBalance
	}
	updated, err := userRepo.CompareAndSetBalance(user.ID, before, after)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errBalanceConflict
	}

	record := &models.PointsRecord{
		UserID:       user.ID,
		OrderID:      change.OrderID,
		PointsChange: delta,
		BalanceAfter: after,
		Source:       change.Source,
		Description:  change.Description,
		ExpiresAt:    change.ExpiresAt,
		CreatedAt:    time.Now(),
	}
	if err := pointsRepo.CreateRecord(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *PointsService) withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < balanceConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, errBalanceConflict) {
			return err
		}
		logger.Debugw("points_balance_conflict_retry", "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %v", ErrLedgerInconsistent, err)
}

func (s *PointsService) rewardExpiresAt(now time.Time) *time.Time {
	if s.cfg.ExpiryDays <= 0 {
		return nil
	}
	expiresAt := now.AddDate(0, 0, s.cfg.ExpiryDays)
	return &expiresAt
}

// SweepExpired 处理已到期的奖励积分，返回完成处理的用户数；单个用户失败只记录日志
func (s *PointsService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	userIDs, err := s.pointsRepo.ListDueRewardUserIDs(now, pointsSweepBatchSize)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		deducted, err := s.expireUser(userID, now)
		if err != nil {
			logger.Warnw("points_expire_user_failed", "user_id", userID, "error", err)
			continue
		}
		applied++
		s.InvalidateBalance(ctx, userID)
		logger.Infow("points_expire_user_applied", "user_id", userID, "deducted", deducted)
	}
	return applied, nil
}

func (s *PointsService) expireUser(userID uint, now time.Time) (int64, error) {
	var deducted int64
	err := s.pointsRepo.Transaction(func(tx *gorm.DB) error {
		userRepo := s.userRepo.WithTx(tx)
		pointsRepo := s.pointsRepo.WithTx(tx)

		user, err := userRepo.GetByIDForUpdate(userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		rewards, err := pointsRepo.ListDueRewardsByUser(userID, now)
		if err != nil {
			return err
		}
		if len(rewards) == 0 {
			return nil
		}
		var due int64
		for _, reward := range rewards {
			due += reward.PointsChange
		}
		deduct := due
		if deduct > user.PointsBalance {
			deduct = user.PointsBalance
		}

		var deductRecordID *uint
		if deduct > 0 {
			after := user.PointsBalance - deduct
			updated, err := userRepo.CompareAndSetBalance(user.ID, user.PointsBalance, after)
			if err != nil {
				return err
			}
			if !updated {
				return errBalanceConflict
			}
			record := &models.PointsRecord{
				UserID:       user.ID,
				PointsChange: -deduct,
				BalanceAfter: after,
				Source:       constants.PointsSourceExpiredDeduct,
				Description:  fmt.Sprintf("积分过期（%d 笔）", len(rewards)),
				CreatedAt:    time.Now(),
			}
			if err := pointsRepo.CreateRecord(record); err != nil {
				return err
			}
			deductRecordID = &record.ID
		}
		for _, reward := range rewards {
			marker := &models.PointsExpiry{
				RewardRecordID: reward.ID,
				DeductRecordID: deductRecordID,
				UserID:         user.ID,
				Points:         reward.PointsChange,
				CreatedAt:      time.Now(),
			}
			if err := pointsRepo.CreateExpiry(marker); err != nil {
				return err
			}
		}
		deducted = deduct
		return nil
	})
	return deducted, err
}

// GetBalance 获取积分概要（只读，带缓存）
func (s *PointsService) GetBalance(ctx context.Context, userID uint) (*BalanceSummary, error) {
	if userID == 0 {
		return nil, ErrUserNotFound
	}
	if s.balanceCache != nil {
		snapshot, hit, err := s.balanceCache.Get(ctx, userID)
		if err != nil {
			logger.Debugw("points_balance_cache_get_failed", "user_id", userID, "error", err)
		} else if hit && snapshot != nil {
			return &BalanceSummary{
				UserID:       snapshot.UserID,
				Balance:      snapshot.Balance,
				TotalEarned:  snapshot.TotalEarned,
				TotalSpent:   snapshot.TotalSpent,
				ExpiringSoon: snapshot.ExpiringSoon,
			}, nil
		}
	}

	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	totals, err := s.pointsRepo.GetTotals(userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	soonDays := s.cfg.ExpiringSoonDays
	if soonDays <= 0 {
		soonDays = 30
	}
	expiringSoon, err := s.pointsRepo.SumExpiringBetween(userID, now, now.AddDate(0, 0, soonDays))
	if err != nil {
		return nil, err
	}
	summary := &BalanceSummary{
		UserID:       userID,
		Balance:      user.PointsBalance,
		TotalEarned:  totals.TotalEarned,
		TotalSpent:   totals.TotalSpent,
		ExpiringSoon: expiringSoon,
	}
	if s.balanceCache != nil {
		ttl := time.Duration(s.cfg.BalanceCacheSeconds) * time.Second
		logger.BestEffort("points_balance_cache_set", func() error {
			return s.balanceCache.Set(ctx, &cache.PointsBalanceSnapshot{
				UserID:       summary.UserID,
				Balance:      summary.Balance,
				TotalEarned:  summary.TotalEarned,
				TotalSpent:   summary.TotalSpent,
				ExpiringSoon: summary.ExpiringSoon,
				UpdatedAt:    now.Unix(),
			}, ttl)
		}, "user_id", userID)
	}
	return summary, nil
}

// InvalidateBalance 账本写入提交后删除余额缓存
func (s *PointsService) InvalidateBalance(ctx context.Context, userID uint) {
	if s.balanceCache == nil || userID == 0 {
		return
	}
	logger.BestEffort("points_balance_cache_invalidate", func() error {
		return s.balanceCache.Invalidate(ctx, userID)
	}, "user_id", userID)
}

// ListRecords 分页查询积分流水
func (s *PointsService) ListRecords(filter repository.PointsRecordListFilter) ([]models.PointsRecord, int64, error) {
	if filter.UserID == 0 {
		return nil, 0, ErrUserNotFound
	}
	if source := strings.TrimSpace(filter.Source); source != "" && !isKnownPointsSource(source) {
		return nil, 0, fmt.Errorf("%w: unknown source %s", ErrValidation, source)
	}
	return s.pointsRepo.ListRecords(filter)
}

// VerifyLedger 重放流水并与用户余额比对
func (s *PointsService) VerifyLedger(userID uint) error {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	records, err := s.pointsRepo.ListLedger(userID)
	if err != nil {
		return err
	}
	var running int64
	for _, record := range records {
		running += record.PointsChange
		if running < 0 {
			return fmt.Errorf("%w: record %d drives balance negative", ErrLedgerInconsistent, record.ID)
		}
		if record.BalanceAfter != running {
			return fmt.Errorf("%w: record %d balance_after=%d replay=%d", ErrLedgerInconsistent, record.ID, record.BalanceAfter, running)
		}
	}
	if running != user.PointsBalance {
		return fmt.Errorf("%w: user balance=%d replay=%d", ErrLedgerInconsistent, user.PointsBalance, running)
	}
	return nil
}

func isKnownPointsSource(source string) bool {
	switch source {
	case constants.PointsSourcePaymentReward,
		constants.PointsSourceMallConsumption,
		constants.PointsSourceAdminAdjust,
		constants.PointsSourceExpiredDeduct:
		return true
	default:
		return false
	}
}

func cleanPointsDescription(raw string, fallback string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = fallback
	}
	if len([]rune(text)) > 120 {
		text = string([]rune(text)[:120])
	}
	return text
}
