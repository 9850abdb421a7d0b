package signature

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jifen-next/internal/constants"
)

// CallbackTimestampWindow v3 回调 Wechatpay-Timestamp 与本地时钟允许的最大偏差
const CallbackTimestampWindow = 5 * time.Minute

// Config 签名引擎密钥配置
type Config struct {
	APIVersion         string
	APIKey             string
	SignType           string
	MerchantPrivateKey string
	APIV3Key           string
	PlatformCerts      []string
}

// Fields 回调中参与验签的原始字段
type Fields struct {
	Protocol string
	// v2: 回调全部字段（含 sign）与声明的签名类型
	Params   map[string]string
	SignType string
	// v3: 应答头与原始报文
	Serial    string
	Timestamp string
	Nonce     string
	Body      string
	Provided  string
}

// Engine 持有已校验的密钥材料，按协议版本签名与验签
type Engine struct {
	apiVersion string
	apiKey     string
	signType   string
	signer     *RSASigner
	verifier   *CertVerifier
	now        func() time.Time
}

// NewEngine 校验密钥材料并创建引擎，任何密钥问题都返回 ErrKeyMaterialInvalid
func NewEngine(cfg Config) (*Engine, error) {
	version := strings.ToLower(strings.TrimSpace(cfg.APIVersion))
	engine := &Engine{apiVersion: version, now: time.Now}
	switch version {
	case constants.WechatAPIVersionV2:
		key := strings.TrimSpace(cfg.APIKey)
		if len(key) != 32 {
			return nil, fmt.Errorf("%w: api_key must be 32 chars", ErrKeyMaterialInvalid)
		}
		signType := NormalizeSignType(cfg.SignType)
		if signType != constants.SignTypeMD5 && signType != constants.SignTypeHMACSHA256 {
			return nil, fmt.Errorf("%w: sign_type %s not allowed for v2", ErrKeyMaterialInvalid, cfg.SignType)
		}
		engine.apiKey = key
		engine.signType = signType
	case constants.WechatAPIVersionV3:
		if len(strings.TrimSpace(cfg.APIV3Key)) != 32 {
			return nil, fmt.Errorf("%w: api_v3_key must be 32 chars", ErrKeyMaterialInvalid)
		}
		signer, err := NewRSASigner(cfg.MerchantPrivateKey)
		if err != nil {
			return nil, err
		}
		verifier, err := NewCertVerifier(cfg.PlatformCerts)
		if err != nil {
			return nil, err
		}
		engine.signType = constants.SignTypeRSA
		engine.signer = signer
		engine.verifier = verifier
	default:
		return nil, fmt.Errorf("%w: unsupported api_version %q", ErrKeyMaterialInvalid, cfg.APIVersion)
	}
	return engine, nil
}

// APIVersion 协议版本
func (e *Engine) APIVersion() string {
	return e.apiVersion
}

// SignType 当前签名类型
func (e *Engine) SignType() string {
	return e.signType
}

// Signer v3 商户签名器，v2 下为 nil
func (e *Engine) Signer() *RSASigner {
	return e.signer
}

// Verifier v3 平台证书验签器，v2 下为 nil
func (e *Engine) Verifier() *CertVerifier {
	return e.verifier
}

// SignParams v2 参数签名
func (e *Engine) SignParams(params map[string]string) (string, error) {
	if e.apiVersion != constants.WechatAPIVersionV2 {
		return "", fmt.Errorf("%w: params signing requires v2", ErrSignTypeUnsupported)
	}
	return Sign(params, e.apiKey, e.signType)
}

// SignMessage v3 消息签名
func (e *Engine) SignMessage(message string) (string, error) {
	if e.apiVersion != constants.WechatAPIVersionV3 {
		return "", fmt.Errorf("%w: message signing requires v3", ErrSignTypeUnsupported)
	}
	return e.signer.Sign(message)
}

// VerifyCallback 校验回调签名，失败统一返回 ErrSignatureInvalid
func (e *Engine) VerifyCallback(ctx context.Context, fields Fields) error {
	protocol := strings.ToLower(strings.TrimSpace(fields.Protocol))
	if protocol != e.apiVersion {
		return fmt.Errorf("%w: protocol %q does not match engine %q", ErrSignatureInvalid, fields.Protocol, e.apiVersion)
	}
	switch protocol {
	case constants.WechatAPIVersionV2:
		signType := e.signType
		if declared := strings.TrimSpace(fields.SignType); declared != "" {
			signType = NormalizeSignType(declared)
		}
		if !Verify(fields.Params, fields.Provided, e.apiKey, signType) {
			return fmt.Errorf("%w: v2 digest mismatch", ErrSignatureInvalid)
		}
		return nil
	default:
		if err := e.checkTimestamp(fields.Timestamp); err != nil {
			return err
		}
		message := BuildV3Message(fields.Timestamp, fields.Nonce, fields.Body)
		return e.verifier.Verify(ctx, fields.Serial, message, fields.Provided)
	}
}

// checkTimestamp 拒绝超出时间窗口的 v3 回调，防止旧报文重放
func (e *Engine) checkTimestamp(raw string) error {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp %q", ErrSignatureInvalid, raw)
	}
	skew := e.now().Sub(time.Unix(seconds, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > CallbackTimestampWindow {
		return fmt.Errorf("%w: timestamp %d outside %s window", ErrSignatureInvalid, seconds, CallbackTimestampWindow)
	}
	return nil
}
