// Package signature 提供支付网关请求与回调的签名、验签能力。
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jifen-next/internal/constants"
)

var (
	ErrKeyMaterialInvalid  = errors.New("signature key material invalid")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrSignTypeUnsupported = errors.New("signature sign_type unsupported")
)

// FieldSign 签名字段名，参与签名时总是排除
const FieldSign = "sign"

// CanonicalString 生成待签名串：按键名字典序排列，跳过空值与 sign 字段，最后追加 &key=
func CanonicalString(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == FieldSign || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, k := range keys {
		builder.WriteString(k)
		builder.WriteByte('=')
		builder.WriteString(params[k])
		builder.WriteByte('&')
	}
	builder.WriteString("key=")
	builder.WriteString(key)
	return builder.String()
}

// Sign 计算 v2 协议签名，结果为大写十六进制
func Sign(params map[string]string, key string, signType string) (string, error) {
	canonical := CanonicalString(params, key)
	switch NormalizeSignType(signType) {
	case constants.SignTypeMD5:
		sum := md5.Sum([]byte(canonical))
		return strings.ToUpper(hex.EncodeToString(sum[:])), nil
	case constants.SignTypeHMACSHA256:
		mac := hmac.New(sha256.New, []byte(key))
		mac.Write([]byte(canonical))
		return strings.ToUpper(hex.EncodeToString(mac.Sum(nil))), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrSignTypeUnsupported, signType)
	}
}

// Verify 重新计算签名并做常量时间比较，任何异常输入都返回 false
func Verify(params map[string]string, provided string, key string, signType string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" || key == "" {
		return false
	}
	expected, err := Sign(params, key, signType)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(provided))) == 1
}

// NormalizeSignType 统一签名类型写法，空值按 MD5 处理
func NormalizeSignType(signType string) string {
	switch strings.ToUpper(strings.TrimSpace(signType)) {
	case "", constants.SignTypeMD5:
		return constants.SignTypeMD5
	case constants.SignTypeHMACSHA256, "HMAC_SHA256", "HMACSHA256":
		return constants.SignTypeHMACSHA256
	case constants.SignTypeRSA:
		return constants.SignTypeRSA
	default:
		return strings.ToUpper(strings.TrimSpace(signType))
	}
}

// BuildV3Message 按 v3 规则拼接待签名串：每段后跟换行
func BuildV3Message(parts ...string) string {
	var builder strings.Builder
	for _, part := range parts {
		builder.WriteString(part)
		builder.WriteByte('\n')
	}
	return builder.String()
}
