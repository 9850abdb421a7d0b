package wechatpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/payment/signature"
)

// CreateOrderInput 下单输入，金额单位为分
type CreateOrderInput struct {
	OrderNo     string
	Amount      int64
	Description string
	PayerOpenID string
	SubMchID    string
	ClientIP    string
}

// PayParams 小程序 wx.requestPayment 参数
type PayParams struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// CreateOrderResult 下单结果
type CreateOrderResult struct {
	PaymentToken string
	PayParams    PayParams
	Raw          map[string]interface{}
}

// UnifiedOrderOutcome 下单应答解析结果，仅以下三种之一
type UnifiedOrderOutcome interface {
	isUnifiedOrderOutcome()
}

// OutcomeSuccess 网关受理，返回预支付标识
type OutcomeSuccess struct {
	PrepayID string
	Fields   map[string]interface{}
}

// OutcomeBusinessError 网关明确拒绝
type OutcomeBusinessError struct {
	Code    string
	Message string
}

// OutcomeMalformed 应答无法解析或校验失败
type OutcomeMalformed struct {
	Reason string
}

func (OutcomeSuccess) isUnifiedOrderOutcome()       {}
func (OutcomeBusinessError) isUnifiedOrderOutcome() {}
func (OutcomeMalformed) isUnifiedOrderOutcome()     {}

// CreateOrder 向网关下单并生成小程序支付参数；同一订单号重复下单由网关保证幂等
func (c *Client) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	input.OrderNo = strings.TrimSpace(input.OrderNo)
	if input.OrderNo == "" || input.Amount <= 0 {
		return nil, fmt.Errorf("%w: order input is invalid", ErrConfigInvalid)
	}
	if strings.TrimSpace(input.PayerOpenID) == "" {
		return nil, fmt.Errorf("%w: payer openid is required", ErrConfigInvalid)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		outcome UnifiedOrderOutcome
		err     error
	)
	if c.cfg.APIVersion == constants.WechatAPIVersionV3 {
		outcome, err = c.unifiedOrderV3(ctx, input)
	} else {
		outcome, err = c.unifiedOrderV2(ctx, input)
	}
	if err != nil {
		return nil, err
	}

	switch result := outcome.(type) {
	case OutcomeSuccess:
		params, err := c.buildPayParams(result.PrepayID)
		if err != nil {
			return nil, err
		}
		return &CreateOrderResult{
			PaymentToken: result.PrepayID,
			PayParams:    params,
			Raw:          result.Fields,
		}, nil
	case OutcomeBusinessError:
		return nil, &GatewayError{Code: result.Code, Message: result.Message}
	case OutcomeMalformed:
		return nil, fmt.Errorf("%w: %s", ErrResponseInvalid, result.Reason)
	default:
		return nil, fmt.Errorf("%w: unknown outcome %T", ErrResponseInvalid, outcome)
	}
}

func (c *Client) unifiedOrderV2(ctx context.Context, input CreateOrderInput) (UnifiedOrderOutcome, error) {
	params := map[string]string{
		"appid":            c.cfg.AppID,
		"mch_id":           c.cfg.MchID,
		"nonce_str":        c.nonce(),
		"body":             buildDescription(input.Description, input.OrderNo),
		"out_trade_no":     input.OrderNo,
		"total_fee":        strconv.FormatInt(input.Amount, 10),
		"spbill_create_ip": normalizeClientIP(input.ClientIP),
		"notify_url":       c.cfg.NotifyURL,
		"trade_type":       "JSAPI",
		"sign_type":        c.engine.SignType(),
	}
	if subMchID := strings.TrimSpace(input.SubMchID); subMchID != "" {
		params["sub_mch_id"] = subMchID
		params["sub_openid"] = input.PayerOpenID
	} else {
		params["openid"] = input.PayerOpenID
	}

	respBody, err := c.postXML(ctx, "/pay/unifiedorder", params)
	if err != nil {
		return nil, err
	}
	return c.parseUnifiedOrderV2(respBody), nil
}

// parseUnifiedOrderV2 通信标识、签名、业务结果依次判定
func (c *Client) parseUnifiedOrderV2(body []byte) UnifiedOrderOutcome {
	fields, err := decodeXML(body)
	if err != nil {
		return OutcomeMalformed{Reason: "decode xml failed: " + err.Error()}
	}
	if xmlField(fields, "return_code") != "SUCCESS" {
		return OutcomeBusinessError{Code: pickFirstNonEmpty(xmlField(fields, "return_code"), "FAIL"), Message: xmlField(fields, "return_msg")}
	}
	if err := c.engine.VerifyCallback(context.Background(), signature.Fields{
		Protocol: constants.WechatAPIVersionV2,
		Params:   fields,
		SignType: xmlField(fields, "sign_type"),
		Provided: xmlField(fields, signature.FieldSign),
	}); err != nil {
		return OutcomeMalformed{Reason: "response signature mismatch"}
	}
	if xmlField(fields, "result_code") != "SUCCESS" {
		return OutcomeBusinessError{Code: xmlField(fields, "err_code"), Message: xmlField(fields, "err_code_des")}
	}
	prepayID := xmlField(fields, "prepay_id")
	if prepayID == "" {
		return OutcomeMalformed{Reason: "missing prepay_id"}
	}
	raw := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		raw[k] = v
	}
	return OutcomeSuccess{PrepayID: prepayID, Fields: raw}
}

func (c *Client) unifiedOrderV3(ctx context.Context, input CreateOrderInput) (UnifiedOrderOutcome, error) {
	payload := map[string]interface{}{
		"description":  buildDescription(input.Description, input.OrderNo),
		"out_trade_no": input.OrderNo,
		"notify_url":   c.cfg.NotifyURL,
		"amount": map[string]interface{}{
			"total":    input.Amount,
			"currency": "CNY",
		},
		"scene_info": map[string]interface{}{
			"payer_client_ip": normalizeClientIP(input.ClientIP),
		},
	}
	endpoint := "/v3/pay/transactions/jsapi"
	if subMchID := strings.TrimSpace(input.SubMchID); subMchID != "" {
		endpoint = "/v3/pay/partner/transactions/jsapi"
		payload["sp_appid"] = c.cfg.AppID
		payload["sp_mchid"] = c.cfg.MchID
		payload["sub_mchid"] = subMchID
		payload["payer"] = map[string]interface{}{"sp_openid": input.PayerOpenID}
	} else {
		payload["appid"] = c.cfg.AppID
		payload["mchid"] = c.cfg.MchID
		payload["payer"] = map[string]interface{}{"openid": input.PayerOpenID}
	}

	raw, err := c.postJSONV3(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	return parseUnifiedOrderV3(raw), nil
}

func parseUnifiedOrderV3(raw map[string]interface{}) UnifiedOrderOutcome {
	if raw == nil {
		return OutcomeMalformed{Reason: "empty response"}
	}
	prepayID := readString(raw, "prepay_id")
	if prepayID == "" {
		return OutcomeMalformed{Reason: "missing prepay_id"}
	}
	return OutcomeSuccess{PrepayID: prepayID, Fields: raw}
}

func (c *Client) buildPayParams(prepayID string) (PayParams, error) {
	params := PayParams{
		AppID:     c.cfg.AppID,
		TimeStamp: strconv.FormatInt(c.now().Unix(), 10),
		NonceStr:  c.nonce(),
		Package:   "prepay_id=" + prepayID,
		SignType:  c.engine.SignType(),
	}
	var (
		paySign string
		err     error
	)
	if c.cfg.APIVersion == constants.WechatAPIVersionV3 {
		paySign, err = c.engine.SignMessage(signature.BuildV3Message(params.AppID, params.TimeStamp, params.NonceStr, params.Package))
	} else {
		paySign, err = c.engine.SignParams(map[string]string{
			"appId":     params.AppID,
			"timeStamp": params.TimeStamp,
			"nonceStr":  params.NonceStr,
			"package":   params.Package,
			"signType":  params.SignType,
		})
	}
	if err != nil {
		return PayParams{}, fmt.Errorf("sign pay params failed: %w", err)
	}
	params.PaySign = paySign
	return params, nil
}

// postXML 发送已签名的 v2 请求，返回原始应答
func (c *Client) postXML(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	sign, err := c.engine.SignParams(params)
	if err != nil {
		return nil, err
	}
	params[signature.FieldSign] = sign
	payload, err := encodeXML(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode xml failed", ErrConfigInvalid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request failed", ErrConfigInvalid)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrResponseInvalid, resp.StatusCode)
	}
	return respBody, nil
}

func (c *Client) postJSONV3(ctx context.Context, path string, payload map[string]interface{}) (map[string]interface{}, error) {
	result, err := c.v3.Post(ctx, c.cfg.BaseURL+path, payload)
	if err != nil {
		return nil, classifyV3Error(result, err)
	}
	return decodeV3Result(result.Response)
}

func (c *Client) getJSONV3(ctx context.Context, requestURL string) (map[string]interface{}, error) {
	result, err := c.v3.Get(ctx, requestURL)
	if err != nil {
		return nil, classifyV3Error(result, err)
	}
	return decodeV3Result(result.Response)
}

func decodeV3Result(resp *http.Response) (map[string]interface{}, error) {
	if resp == nil || resp.Body == nil {
		return nil, fmt.Errorf("%w: empty response", ErrResponseInvalid)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrResponseInvalid)
	}
	raw := map[string]interface{}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func pickFirstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
