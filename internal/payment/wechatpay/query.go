package wechatpay

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jifen-next/internal/constants"
)

// QueryResult 网关订单查询结果
type QueryResult struct {
	OrderNo       string
	TransactionID string
	TradeState    string
	Amount        int64
	Raw           map[string]interface{}
}

// Paid 网关侧是否已支付成功
func (r *QueryResult) Paid() bool {
	return r != nil && r.TradeState == "SUCCESS"
}

// QueryOrder 按商户订单号查询网关交易状态
func (c *Client) QueryOrder(ctx context.Context, orderNo, subMchID string) (*QueryResult, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order no is required", ErrConfigInvalid)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.cfg.APIVersion == constants.WechatAPIVersionV3 {
		return c.queryOrderV3(ctx, orderNo, strings.TrimSpace(subMchID))
	}
	return c.queryOrderV2(ctx, orderNo, strings.TrimSpace(subMchID))
}

func (c *Client) queryOrderV2(ctx context.Context, orderNo, subMchID string) (*QueryResult, error) {
	params := map[string]string{
		"appid":        c.cfg.AppID,
		"mch_id":       c.cfg.MchID,
		"out_trade_no": orderNo,
		"nonce_str":    c.nonce(),
		"sign_type":    c.engine.SignType(),
	}
	if subMchID != "" {
		params["sub_mch_id"] = subMchID
	}
	body, err := c.postXML(ctx, "/pay/orderquery", params)
	if err != nil {
		return nil, err
	}
	fields, err := decodeXML(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode xml failed", ErrResponseInvalid)
	}
	if xmlField(fields, "return_code") != "SUCCESS" {
		return nil, &GatewayError{Code: pickFirstNonEmpty(xmlField(fields, "return_code"), "FAIL"), Message: xmlField(fields, "return_msg")}
	}
	if xmlField(fields, "result_code") != "SUCCESS" {
		return nil, &GatewayError{Code: xmlField(fields, "err_code"), Message: xmlField(fields, "err_code_des")}
	}
	amount, _ := strconv.ParseInt(xmlField(fields, "total_fee"), 10, 64)
	raw := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		raw[k] = v
	}
	return &QueryResult{
		OrderNo:       pickFirstNonEmpty(xmlField(fields, "out_trade_no"), orderNo),
		TransactionID: xmlField(fields, "transaction_id"),
		TradeState:    strings.ToUpper(xmlField(fields, "trade_state")),
		Amount:        amount,
		Raw:           raw,
	}, nil
}

func (c *Client) queryOrderV3(ctx context.Context, orderNo, subMchID string) (*QueryResult, error) {
	var requestURL string
	if subMchID != "" {
		requestURL = c.cfg.BaseURL + "/v3/pay/partner/transactions/out-trade-no/" + url.PathEscape(orderNo) +
			"?sp_mchid=" + url.QueryEscape(c.cfg.MchID) + "&sub_mchid=" + url.QueryEscape(subMchID)
	} else {
		requestURL = c.cfg.BaseURL + "/v3/pay/transactions/out-trade-no/" + url.PathEscape(orderNo) +
			"?mchid=" + url.QueryEscape(c.cfg.MchID)
	}
	raw, err := c.getJSONV3(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	amount, _ := readInt64(raw, "amount", "total")
	return &QueryResult{
		OrderNo:       pickFirstNonEmpty(readString(raw, "out_trade_no"), orderNo),
		TransactionID: readString(raw, "transaction_id"),
		TradeState:    strings.ToUpper(readString(raw, "trade_state")),
		Amount:        amount,
		Raw:           raw,
	}, nil
}
