package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jifen-next/internal/cache"
	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/payment/signature"
	"github.com/jifen-next/internal/payment/signature/sigtest"
	"github.com/jifen-next/internal/payment/wechatpay"
	"github.com/jifen-next/internal/queue"
	"github.com/jifen-next/internal/repository"

	"gorm.io/gorm"
)

const (
	testWechatAPIKey   = "192006250b4c09247ec02edce69f6a2d"
	testWechatAPIV3Key = "12345678901234567890123456789012"
)

type recordingTasks struct {
	mu      sync.Mutex
	expires []queue.OrderExpirePayload
	delays  []time.Duration
	alerts  []queue.SettlementAlertPayload
}

func (r *recordingTasks) EnqueueOrderExpire(payload queue.OrderExpirePayload, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expires = append(r.expires, payload)
	r.delays = append(r.delays, delay)
	return nil
}

func (r *recordingTasks) EnqueueSettlementAlert(payload queue.SettlementAlertPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, payload)
	return nil
}

func (r *recordingTasks) alertKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.alerts))
	for _, alert := range r.alerts {
		kinds = append(kinds, alert.Kind)
	}
	return kinds
}

type memoryBalanceCache struct {
	mu          sync.Mutex
	items       map[uint]cache.PointsBalanceSnapshot
	invalidated int
}

func newMemoryBalanceCache() *memoryBalanceCache {
	return &memoryBalanceCache{items: make(map[uint]cache.PointsBalanceSnapshot)}
}

func (m *memoryBalanceCache) Get(_ context.Context, userID uint) (*cache.PointsBalanceSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[userID]
	if !ok {
		return nil, false, nil
	}
	return &item, true, nil
}

func (m *memoryBalanceCache) Set(_ context.Context, snapshot *cache.PointsBalanceSnapshot, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[snapshot.UserID] = *snapshot
	return nil
}

func (m *memoryBalanceCache) Invalidate(_ context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, userID)
	m.invalidated++
	return nil
}

type serviceTestEnv struct {
	db         *gorm.DB
	cfg        *config.Config
	tasks      *recordingTasks
	cache      *memoryBalanceCache
	gateway    *wechatpay.Client
	points     *PointsService
	orders     *OrderService
	settlement *SettlementService
	qrcode     *QRCodeService
	stats      *StatsService
}

func testServiceConfig() *config.Config {
	return &config.Config{
		Order: config.OrderConfig{
			PaymentExpireMinutes: 60,
			MaxAmount:            5000000,
		},
		Points: config.PointsConfig{
			PointsPerUnit:       100,
			ExpiryDays:          365,
			ExpiringSoonDays:    30,
			BalanceCacheSeconds: 30,
		},
		Wechat: config.WechatConfig{
			APIVersion: constants.WechatAPIVersionV2,
			AppID:      "wx1234567890",
			MchID:      "1900000109",
			APIKey:     testWechatAPIKey,
			SignType:   constants.SignTypeMD5,
			NotifyURL:  "https://example.com/api/v1/payments/notify",
			BaseURL:    "http://127.0.0.1:1",
		},
		QRCode: config.QRCodeConfig{
			Secret:   "qrcode-secret",
			PagePath: "pages/payment/index",
		},
	}
}

func setupServiceTest(t *testing.T, gatewayURL string) *serviceTestEnv {
	t.Helper()
	cfg := testServiceConfig()
	if gatewayURL != "" {
		cfg.Wechat.BaseURL = gatewayURL
	}
	return newServiceTestEnv(t, cfg)
}

// setupV3ServiceTest 使用 v3 协议的测试环境，返回的平台密钥用于给回调签名
func setupV3ServiceTest(t *testing.T) (*serviceTestEnv, sigtest.KeyPair) {
	t.Helper()
	merchant := sigtest.NewKeyPair(t, 501)
	platform := sigtest.NewKeyPair(t, 502)
	cfg := testServiceConfig()
	cfg.Wechat.APIVersion = constants.WechatAPIVersionV3
	cfg.Wechat.APIKey = ""
	cfg.Wechat.SignType = ""
	cfg.Wechat.MerchantSerialNo = merchant.Serial
	cfg.Wechat.MerchantPrivateKey = merchant.PrivateKeyPEM
	cfg.Wechat.APIV3Key = testWechatAPIV3Key
	cfg.Wechat.PlatformCerts = []string{platform.CertPEM}
	return newServiceTestEnv(t, cfg), platform
}

func newServiceTestEnv(t *testing.T, cfg *config.Config) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := models.OpenDB("sqlite", dsn, "silent", models.DBPoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	t.Cleanup(func() { _ = models.CloseDB(db) })

	engine, err := signature.NewEngine(signature.Config{
		APIVersion:         cfg.Wechat.APIVersion,
		APIKey:             cfg.Wechat.APIKey,
		SignType:           cfg.Wechat.SignType,
		MerchantPrivateKey: cfg.Wechat.MerchantPrivateKey,
		APIV3Key:           cfg.Wechat.APIV3Key,
		PlatformCerts:      cfg.Wechat.PlatformCerts,
	})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	gateway, err := wechatpay.NewClient(context.Background(), wechatpay.Config{
		APIVersion:         cfg.Wechat.APIVersion,
		AppID:              cfg.Wechat.AppID,
		MchID:              cfg.Wechat.MchID,
		MerchantSerialNo:   cfg.Wechat.MerchantSerialNo,
		MerchantPrivateKey: cfg.Wechat.MerchantPrivateKey,
		APIV3Key:           cfg.Wechat.APIV3Key,
		NotifyURL:          cfg.Wechat.NotifyURL,
		BaseURL:            cfg.Wechat.BaseURL,
		Timeout:            time.Second,
	}, engine)
	if err != nil {
		t.Fatalf("new gateway failed: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)
	orderRepo := repository.NewPaymentOrderRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	callbackLogRepo := repository.NewCallbackLogRepository(db)

	env := &serviceTestEnv{
		db:      db,
		cfg:     cfg,
		tasks:   &recordingTasks{},
		cache:   newMemoryBalanceCache(),
		gateway: gateway,
	}
	env.points = NewPointsService(userRepo, pointsRepo, env.cache, cfg.Points)
	env.orders = NewOrderService(orderRepo, userRepo, merchantRepo, env.points, gateway, env.tasks, cfg.Order)
	env.settlement = NewSettlementService(gateway, engine, orderRepo, callbackLogRepo, env.orders, env.points, env.tasks)
	env.qrcode = NewQRCodeService(merchantRepo, cfg.QRCode)
	env.stats = NewStatsService(repository.NewStatsRepository(db))
	return env
}

func (e *serviceTestEnv) createUser(t *testing.T, openID string) *models.User {
	t.Helper()
	user := &models.User{
		OpenID:   openID,
		Nickname: openID,
		Status:   constants.UserStatusActive,
	}
	if err := e.db.Create(user).Error; err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	return user
}

func (e *serviceTestEnv) createMerchant(t *testing.T, name, subMchID, status string) *models.Merchant {
	t.Helper()
	merchant := &models.Merchant{
		Name:     name,
		SubMchID: subMchID,
		Status:   status,
	}
	if err := e.db.Create(merchant).Error; err != nil {
		t.Fatalf("create merchant failed: %v", err)
	}
	return merchant
}

func (e *serviceTestEnv) createOrder(t *testing.T, userID, merchantID uint, amount int64) *models.PaymentOrder {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), CreateOrderInput{
		UserID:      userID,
		MerchantID:  merchantID,
		Amount:      amount,
		Description: "测试订单",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func (e *serviceTestEnv) reloadUser(t *testing.T, userID uint) models.User {
	t.Helper()
	var user models.User
	if err := e.db.First(&user, userID).Error; err != nil {
		t.Fatalf("reload user failed: %v", err)
	}
	return user
}

func (e *serviceTestEnv) reloadOrder(t *testing.T, orderID uint) models.PaymentOrder {
	t.Helper()
	var order models.PaymentOrder
	if err := e.db.First(&order, orderID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	return order
}

func (e *serviceTestEnv) countRecords(t *testing.T, userID uint, source string) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&models.PointsRecord{}).
		Where("user_id = ? AND source = ?", userID, source).
		Count(&count).Error; err != nil {
		t.Fatalf("count records failed: %v", err)
	}
	return count
}

func v2CallbackFields(orderNo, transactionID string, totalFee int64) map[string]string {
	return map[string]string{
		"appid":          "wx1234567890",
		"mch_id":         "1900000109",
		"nonce_str":      "5K8264ILTKCH16CQ2502SI8ZNMTM67VS",
		"out_trade_no":   orderNo,
		"transaction_id": transactionID,
		"total_fee":      strconv.FormatInt(totalFee, 10),
		"trade_type":     "JSAPI",
		"openid":         "openid-settle",
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"sign_type":      constants.SignTypeMD5,
	}
}

// signedV2Callback 对字段签名（签名写回 fields）并构造回调请求
func signedV2Callback(t *testing.T, fields map[string]string) CallbackRequest {
	t.Helper()
	delete(fields, signature.FieldSign)
	sign, err := signature.Sign(fields, testWechatAPIKey, constants.SignTypeMD5)
	if err != nil {
		t.Fatalf("sign callback failed: %v", err)
	}
	fields[signature.FieldSign] = sign
	return rawV2Callback(fields)
}

func rawV2Callback(fields map[string]string) CallbackRequest {
	return CallbackRequest{
		Headers:   http.Header{"Content-Type": []string{"text/xml"}},
		Body:      []byte(buildTestXML(fields)),
		RequestID: "req-" + fields["out_trade_no"],
	}
}

func v2CallbackRequest(t *testing.T, orderNo, transactionID string, totalFee int64) CallbackRequest {
	t.Helper()
	return signedV2Callback(t, v2CallbackFields(orderNo, transactionID, totalFee))
}

func buildTestXML(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("<xml>")
	for _, key := range keys {
		fmt.Fprintf(&b, "<%s><![CDATA[%s]]></%s>", key, fields[key], key)
	}
	b.WriteString("</xml>")
	return b.String()
}
