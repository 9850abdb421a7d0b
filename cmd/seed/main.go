package main

import (
	"time"

	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/repository"
	"github.com/jifen-next/internal/router"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.LogLevel, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	})
	if err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}
	defer func() {
		_ = models.CloseDB(db)
	}()

	// 自动迁移
	if err := models.AutoMigrate(db); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)

	// 演示用户
	users := []models.User{
		{OpenID: "oDemoUser0000000000000000001", Nickname: "演示用户", Status: constants.UserStatusActive},
		{OpenID: "oDemoUser0000000000000000002", Nickname: "测试用户", Status: constants.UserStatusActive},
	}
	var firstUserID uint
	for _, user := range users {
		existing, err := userRepo.GetByOpenID(user.OpenID)
		if err != nil {
			stdLog.Fatalf("Failed to load user %s: %v", user.OpenID, err)
		}
		if existing != nil {
			stdLog.Printf("User already exists: %s (id=%d)", user.Nickname, existing.ID)
			if firstUserID == 0 {
				firstUserID = existing.ID
			}
			continue
		}
		if err := userRepo.Create(&user); err != nil {
			stdLog.Printf("Failed to create user %s: %v", user.Nickname, err)
			continue
		}
		stdLog.Printf("Created user: %s (id=%d)", user.Nickname, user.ID)
		if firstUserID == 0 {
			firstUserID = user.ID
		}
	}

	// 演示商户
	merchants := []models.Merchant{
		{Name: "演示咖啡店", SubMchID: "1900000109", Status: constants.MerchantStatusActive},
		{Name: "演示便利店", SubMchID: "", Status: constants.MerchantStatusActive},
	}
	for _, merchant := range merchants {
		var existing models.Merchant
		if err := db.Where("name = ?", merchant.Name).First(&existing).Error; err == nil {
			stdLog.Printf("Merchant already exists: %s (id=%d)", merchant.Name, existing.ID)
			continue
		}
		if err := merchantRepo.Create(&merchant); err != nil {
			stdLog.Printf("Failed to create merchant %s: %v", merchant.Name, err)
			continue
		}
		stdLog.Printf("Created merchant: %s (id=%d)", merchant.Name, merchant.ID)
	}

	// 输出演示用户令牌，便于本地联调
	if firstUserID != 0 && cfg.UserJWT.SecretKey != "" {
		expireHours := cfg.UserJWT.ExpireHours
		if expireHours <= 0 {
			expireHours = 24
		}
		now := time.Now()
		claims := router.UserClaims{
			UserID: firstUserID,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expireHours) * time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.UserJWT.SecretKey))
		if err != nil {
			stdLog.Printf("Failed to sign demo token: %v", err)
		} else {
			stdLog.Printf("Demo user token: %s", token)
		}
	}

	stdLog.Println("Seed data created successfully!")
}
