package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/payment/signature"
	"github.com/jifen-next/internal/repository"
)

const defaultQRCodePagePath = "pages/payment/index"

// QRCodeService 商户收款码服务
type QRCodeService struct {
	merchantRepo repository.MerchantRepository
	cfg          config.QRCodeConfig
}

// NewQRCodeService 创建收款码服务
func NewQRCodeService(merchantRepo repository.MerchantRepository, cfg config.QRCodeConfig) *QRCodeService {
	return &QRCodeService{merchantRepo: merchantRepo, cfg: cfg}
}

// QRCodePayload 收款码内容
type QRCodePayload struct {
	MerchantID  uint   `json:"merchant_id"`
	SubMchID    string `json:"sub_mch_id"`
	FixedAmount *int64 `json:"fixed_amount,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sign        string `json:"sign"`
	Content     string `json:"content"`
}

// BuildMerchantQRCode 生成带签名的收款码内容，fixedAmount 为空表示用户自填金额
func (s *QRCodeService) BuildMerchantQRCode(merchantID uint, fixedAmount *int64) (*QRCodePayload, error) {
	if strings.TrimSpace(s.cfg.Secret) == "" {
		return nil, ErrQRCodeSecretMissing
	}
	if fixedAmount != nil && *fixedAmount <= 0 {
		return nil, fmt.Errorf("%w: fixed amount must be positive", ErrValidation)
	}
	merchant, err := s.activeMerchant(merchantID)
	if err != nil {
		return nil, err
	}
	payload := &QRCodePayload{
		MerchantID:  merchant.ID,
		SubMchID:    merchant.SubMchID,
		FixedAmount: fixedAmount,
		Timestamp:   time.Now().UnixMilli(),
	}
	payload.Sign = signature.SignQRPayload(payload.MerchantID, payload.SubMchID, payload.FixedAmount, s.cfg.Secret)
	payload.Content = s.encode(payload)
	return payload, nil
}

// VerifyQRCode 解析并校验扫码得到的收款码内容
func (s *QRCodeService) VerifyQRCode(content string) (*QRCodePayload, error) {
	if strings.TrimSpace(s.cfg.Secret) == "" {
		return nil, ErrQRCodeSecretMissing
	}
	payload, err := decodeQRCode(content)
	if err != nil {
		return nil, err
	}
	if !signature.VerifyQRPayload(payload.MerchantID, payload.SubMchID, payload.FixedAmount, s.cfg.Secret, payload.Sign) {
		return nil, ErrQRCodeSignInvalid
	}
	merchant, err := s.activeMerchant(payload.MerchantID)
	if err != nil {
		return nil, err
	}
	if merchant.SubMchID != payload.SubMchID {
		return nil, ErrQRCodeSignInvalid
	}
	return payload, nil
}

func (s *QRCodeService) activeMerchant(merchantID uint) (*models.Merchant, error) {
	merchant, err := s.merchantRepo.GetByID(merchantID)
	if err != nil {
		return nil, err
	}
	if merchant == nil || merchant.Status != constants.MerchantStatusActive {
		return nil, ErrMerchantNotFound
	}
	return merchant, nil
}

func (s *QRCodeService) encode(payload *QRCodePayload) string {
	path := strings.TrimSpace(s.cfg.PagePath)
	if path == "" {
		path = defaultQRCodePagePath
	}
	// 参数顺序固定，便于人工核对
	parts := []string{
		"merchantId=" + strconv.FormatUint(uint64(payload.MerchantID), 10),
		"subMchId=" + url.QueryEscape(payload.SubMchID),
	}
	if payload.FixedAmount != nil {
		parts = append(parts, "amount="+models.FormatYuan(*payload.FixedAmount))
	}
	parts = append(parts,
		"timestamp="+strconv.FormatInt(payload.Timestamp, 10),
		"sign="+payload.Sign,
	)
	return path + "?" + strings.Join(parts, "&")
}

func decodeQRCode(content string) (*QRCodePayload, error) {
	content = strings.TrimSpace(content)
	idx := strings.Index(content, "?")
	if idx < 0 {
		return nil, fmt.Errorf("%w: qrcode query missing", ErrValidation)
	}
	values, err := url.ParseQuery(content[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	merchantID, err := strconv.ParseUint(strings.TrimSpace(values.Get("merchantId")), 10, 64)
	if err != nil || merchantID == 0 {
		return nil, fmt.Errorf("%w: merchantId invalid", ErrValidation)
	}
	payload := &QRCodePayload{
		MerchantID: uint(merchantID),
		SubMchID:   strings.TrimSpace(values.Get("subMchId")),
		Sign:       strings.TrimSpace(values.Get("sign")),
		Content:    content,
	}
	if raw := strings.TrimSpace(values.Get("amount")); raw != "" {
		amount, err := models.ParseYuan(raw)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("%w: amount invalid", ErrValidation)
		}
		payload.FixedAmount = &amount
	}
	if raw := strings.TrimSpace(values.Get("timestamp")); raw != "" {
		timestamp, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp invalid", ErrValidation)
		}
		payload.Timestamp = timestamp
	}
	if payload.Sign == "" {
		return nil, ErrQRCodeSignInvalid
	}
	return payload, nil
}
