package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

// qrFieldSeparator ASCII 单元分隔符，商户号与子商户号互换时不会得到相同的签名串
const qrFieldSeparator = "\x1f"

// SignQRPayload 生成商户收款码签名（HMAC-SHA256，小写十六进制）
func SignQRPayload(merchantID uint, subMchID string, fixedAmount *int64, secret string) string {
	amount := ""
	if fixedAmount != nil {
		amount = strconv.FormatInt(*fixedAmount, 10)
	}
	message := strings.Join([]string{
		strconv.FormatUint(uint64(merchantID), 10),
		strings.TrimSpace(subMchID),
		amount,
	}, qrFieldSeparator)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyQRPayload 常量时间校验收款码签名
func VerifyQRPayload(merchantID uint, subMchID string, fixedAmount *int64, secret, provided string) bool {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" || secret == "" {
		return false
	}
	expected := SignQRPayload(merchantID, subMchID, fixedAmount, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
