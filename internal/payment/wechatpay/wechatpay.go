package wechatpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/payment/signature"

	"github.com/google/uuid"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
)

var (
	ErrConfigInvalid      = errors.New("wechatpay config invalid")
	ErrGatewayBusiness    = errors.New("wechatpay business error")
	ErrGatewayUnavailable = errors.New("wechatpay gateway unavailable")
	ErrResponseInvalid    = errors.New("wechatpay response invalid")
	ErrCallbackMalformed  = errors.New("wechatpay callback malformed")
)

const (
	defaultBaseURL = "https://api.mch.weixin.qq.com"
	defaultTimeout = 30 * time.Second
)

// GatewayError 网关明确拒绝的业务错误，订单保持 pending，可重新发起
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("wechatpay business error: %s %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Is(err, ErrGatewayBusiness)
func (e *GatewayError) Unwrap() error {
	return ErrGatewayBusiness
}

// Config 微信支付网关配置
type Config struct {
	APIVersion         string
	AppID              string
	MchID              string
	MerchantSerialNo   string
	MerchantPrivateKey string
	APIV3Key           string
	NotifyURL          string
	BaseURL            string
	Timeout            time.Duration
}

// Client 微信支付网关适配器，v2 走 XML，v3 走 wechatpay-go
type Client struct {
	cfg        Config
	engine     *signature.Engine
	httpClient *http.Client
	v3         *core.Client
	now        func() time.Time
	nonce      func() string
}

// NewClient 创建网关适配器，签名引擎需已完成密钥校验
func NewClient(ctx context.Context, cfg Config, engine *signature.Engine) (*Client, error) {
	cfg.normalize()
	if engine == nil {
		return nil, fmt.Errorf("%w: signature engine is nil", ErrConfigInvalid)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if engine.APIVersion() != cfg.APIVersion {
		return nil, fmt.Errorf("%w: engine version %s does not match %s", ErrConfigInvalid, engine.APIVersion(), cfg.APIVersion)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	client := &Client{
		cfg:        cfg,
		engine:     engine,
		httpClient: httpClient,
		now:        time.Now,
		nonce:      newNonce,
	}
	if cfg.APIVersion == constants.WechatAPIVersionV3 {
		if ctx == nil {
			ctx = context.Background()
		}
		v3, err := core.NewClient(ctx,
			option.WithMerchantCredential(cfg.MchID, cfg.MerchantSerialNo, engine.Signer().PrivateKey()),
			option.WithVerifier(engine.Verifier()),
			option.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: init v3 client failed: %v", ErrConfigInvalid, err)
		}
		client.v3 = v3
	}
	return client, nil
}

// APIVersion 协议版本
func (c *Client) APIVersion() string {
	return c.cfg.APIVersion
}

func validateConfig(cfg Config) error {
	switch cfg.APIVersion {
	case constants.WechatAPIVersionV2, constants.WechatAPIVersionV3:
	default:
		return fmt.Errorf("%w: api_version %q is not supported", ErrConfigInvalid, cfg.APIVersion)
	}
	if cfg.AppID == "" {
		return fmt.Errorf("%w: app_id is required", ErrConfigInvalid)
	}
	if cfg.MchID == "" {
		return fmt.Errorf("%w: mch_id is required", ErrConfigInvalid)
	}
	if cfg.APIVersion == constants.WechatAPIVersionV3 {
		if cfg.MerchantSerialNo == "" {
			return fmt.Errorf("%w: merchant_serial_no is required", ErrConfigInvalid)
		}
		if len(cfg.APIV3Key) != 32 {
			return fmt.Errorf("%w: api_v3_key must be 32 chars", ErrConfigInvalid)
		}
	}
	if cfg.NotifyURL == "" {
		return fmt.Errorf("%w: notify_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(cfg.NotifyURL); err != nil {
		return fmt.Errorf("%w: notify_url is invalid", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return fmt.Errorf("%w: base_url is invalid", ErrConfigInvalid)
	}
	return nil
}

func (c *Config) normalize() {
	c.APIVersion = strings.ToLower(strings.TrimSpace(c.APIVersion))
	c.AppID = strings.TrimSpace(c.AppID)
	c.MchID = strings.TrimSpace(c.MchID)
	c.MerchantSerialNo = strings.TrimSpace(c.MerchantSerialNo)
	c.APIV3Key = strings.TrimSpace(c.APIV3Key)
	c.NotifyURL = strings.TrimSpace(c.NotifyURL)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// classifyTransportError 网络错误、超时、5xx 统一视为可重试的网关不可用
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, apiErr.StatusCode)
		}
		return &GatewayError{Code: strings.TrimSpace(apiErr.Code), Message: strings.TrimSpace(apiErr.Message)}
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// classifyV3Error 2xx 应答未通过平台签名校验时视为应答不可信，其余按传输错误处理
func classifyV3Error(result *core.APIResult, err error) error {
	if result != nil && result.Response != nil && result.Response.StatusCode < http.StatusMultipleChoices {
		return fmt.Errorf("%w: response signature rejected: %v", ErrResponseInvalid, err)
	}
	return classifyTransportError(err)
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func normalizeClientIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "127.0.0.1"
	}
	if parsed := net.ParseIP(raw); parsed != nil {
		return parsed.String()
	}
	host, _, err := net.SplitHostPort(raw)
	if err == nil {
		if parsed := net.ParseIP(strings.TrimSpace(host)); parsed != nil {
			return parsed.String()
		}
	}
	return "127.0.0.1"
}

func buildDescription(description string, orderNo string) string {
	description = strings.TrimSpace(description)
	if description != "" {
		return description
	}
	return "积分订单 " + strings.TrimSpace(orderNo)
}

func readString(raw map[string]interface{}, keys ...string) string {
	current, ok := walk(raw, keys...)
	if !ok {
		return ""
	}
	if value, ok := current.(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func readInt64(raw map[string]interface{}, keys ...string) (int64, bool) {
	current, ok := walk(raw, keys...)
	if !ok {
		return 0, false
	}
	switch value := current.(type) {
	case float64:
		return int64(value), true
	case int64:
		return value, true
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func walk(raw map[string]interface{}, keys ...string) (interface{}, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	var current interface{} = raw
	for _, key := range keys {
		mapValue, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		next, ok := mapValue[key]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}
