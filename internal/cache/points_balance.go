package cache

import (
	"context"
	"fmt"
	"time"
)

const defaultPointsBalanceTTL = 30 * time.Second

// PointsBalanceSnapshot 用户积分概要快照
// 仅用于读路径加速，任何账本写入提交后都会删除
type PointsBalanceSnapshot struct {
	UserID       uint  `json:"user_id"`
	Balance      int64 `json:"balance"`
	TotalEarned  int64 `json:"total_earned"`
	TotalSpent   int64 `json:"total_spent"`
	ExpiringSoon int64 `json:"expiring_soon"`
	UpdatedAt    int64 `json:"updated_at"`
}

func pointsBalanceKey(userID uint) string {
	return fmt.Sprintf("points:balance:%d", userID)
}

// GetPointsBalance 获取积分概要快照
func GetPointsBalance(ctx context.Context, userID uint) (*PointsBalanceSnapshot, bool, error) {
	if userID == 0 {
		return nil, false, nil
	}
	var snapshot PointsBalanceSnapshot
	hit, err := GetJSON(ctx, pointsBalanceKey(userID), &snapshot)
	if err != nil || !hit {
		return nil, hit, err
	}
	return &snapshot, true, nil
}

// SetPointsBalance 写入积分概要快照
func SetPointsBalance(ctx context.Context, snapshot *PointsBalanceSnapshot, ttl time.Duration) error {
	if snapshot == nil || snapshot.UserID == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultPointsBalanceTTL
	}
	return SetJSON(ctx, pointsBalanceKey(snapshot.UserID), snapshot, ttl)
}

// DelPointsBalance 删除积分概要快照
func DelPointsBalance(ctx context.Context, userID uint) error {
	if userID == 0 {
		return nil
	}
	return Del(ctx, pointsBalanceKey(userID))
}

// PointsBalanceStore 基于 Redis 的积分概要缓存，Redis 未启用时所有操作为空操作
type PointsBalanceStore struct{}

// NewPointsBalanceStore 创建积分概要缓存
func NewPointsBalanceStore() *PointsBalanceStore {
	return &PointsBalanceStore{}
}

// Get 读取快照
func (PointsBalanceStore) Get(ctx context.Context, userID uint) (*PointsBalanceSnapshot, bool, error) {
	return GetPointsBalance(ctx, userID)
}

// Set 写入快照
func (PointsBalanceStore) Set(ctx context.Context, snapshot *PointsBalanceSnapshot, ttl time.Duration) error {
	return SetPointsBalance(ctx, snapshot, ttl)
}

// Invalidate 删除快照
func (PointsBalanceStore) Invalidate(ctx context.Context, userID uint) error {
	return DelPointsBalance(ctx, userID)
}
