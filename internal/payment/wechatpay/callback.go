package wechatpay

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/payment/signature"

	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// v3 回调签名相关应答头
const (
	HeaderSerial    = "Wechatpay-Serial"
	HeaderTimestamp = "Wechatpay-Timestamp"
	HeaderNonce     = "Wechatpay-Nonce"
	HeaderSignature = "Wechatpay-Signature"
)

// CallbackEvent 解析后的支付回调，签名尚未校验
type CallbackEvent struct {
	OrderNo              string
	GatewayTransactionID string
	Amount               int64
	TradeState           string
	TradeSucceeded       bool
	Signature            signature.Fields
	Raw                  map[string]interface{}
}

// Acknowledgement 返回给网关的协议应答
type Acknowledgement struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Accepted    bool
}

// ParseCallback 解析回调报文；v3 资源密文在此解密，验签由签名引擎完成
func (c *Client) ParseCallback(headers http.Header, body []byte) (*CallbackEvent, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrCallbackMalformed)
	}
	if c.cfg.APIVersion == constants.WechatAPIVersionV3 {
		return c.parseCallbackV3(headers, body)
	}
	return parseCallbackV2(body)
}

func parseCallbackV2(body []byte) (*CallbackEvent, error) {
	fields, err := decodeXML(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCallbackMalformed, err)
	}
	orderNo := xmlField(fields, "out_trade_no")
	if orderNo == "" {
		return nil, fmt.Errorf("%w: missing out_trade_no", ErrCallbackMalformed)
	}
	succeeded := xmlField(fields, "return_code") == "SUCCESS" && xmlField(fields, "result_code") == "SUCCESS"

	var amount int64
	if rawFee := xmlField(fields, "total_fee"); rawFee != "" {
		amount, err = strconv.ParseInt(rawFee, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: total_fee is not an integer", ErrCallbackMalformed)
		}
	} else if succeeded {
		return nil, fmt.Errorf("%w: missing total_fee", ErrCallbackMalformed)
	}

	transactionID := xmlField(fields, "transaction_id")
	if succeeded && transactionID == "" {
		return nil, fmt.Errorf("%w: missing transaction_id", ErrCallbackMalformed)
	}

	tradeState := "FAIL"
	if succeeded {
		tradeState = "SUCCESS"
	}
	raw := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == signature.FieldSign {
			continue
		}
		raw[k] = v
	}
	return &CallbackEvent{
		OrderNo:              orderNo,
		GatewayTransactionID: transactionID,
		Amount:               amount,
		TradeState:           tradeState,
		TradeSucceeded:       succeeded,
		Signature: signature.Fields{
			Protocol: constants.WechatAPIVersionV2,
			Params:   fields,
			SignType: xmlField(fields, "sign_type"),
			Provided: xmlField(fields, signature.FieldSign),
		},
		Raw: raw,
	}, nil
}

type v3NotifyBody struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     *struct {
		Algorithm      string `json:"algorithm"`
		Ciphertext     string `json:"ciphertext"`
		AssociatedData string `json:"associated_data"`
		Nonce          string `json:"nonce"`
		OriginalType   string `json:"original_type"`
	} `json:"resource"`
}

func (c *Client) parseCallbackV3(headers http.Header, body []byte) (*CallbackEvent, error) {
	var notify v3NotifyBody
	if err := json.Unmarshal(body, &notify); err != nil {
		return nil, fmt.Errorf("%w: decode body failed", ErrCallbackMalformed)
	}
	if notify.Resource == nil || strings.TrimSpace(notify.Resource.Ciphertext) == "" {
		return nil, fmt.Errorf("%w: missing resource", ErrCallbackMalformed)
	}
	plaintext, err := utils.DecryptAES256GCM(
		c.cfg.APIV3Key,
		notify.Resource.AssociatedData,
		notify.Resource.Nonce,
		notify.Resource.Ciphertext,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt resource failed", ErrCallbackMalformed)
	}
	transaction := map[string]interface{}{}
	decoder := json.NewDecoder(strings.NewReader(plaintext))
	decoder.UseNumber()
	if err := decoder.Decode(&transaction); err != nil {
		return nil, fmt.Errorf("%w: decode resource failed", ErrCallbackMalformed)
	}

	orderNo := readString(transaction, "out_trade_no")
	if orderNo == "" {
		return nil, fmt.Errorf("%w: missing out_trade_no", ErrCallbackMalformed)
	}
	tradeState := strings.ToUpper(readString(transaction, "trade_state"))
	amount, ok := readInt64(transaction, "amount", "total")
	if !ok && tradeState == "SUCCESS" {
		return nil, fmt.Errorf("%w: missing amount.total", ErrCallbackMalformed)
	}

	transactionID := readString(transaction, "transaction_id")
	if tradeState == "SUCCESS" && transactionID == "" {
		return nil, fmt.Errorf("%w: missing transaction_id", ErrCallbackMalformed)
	}

	transaction["event_id"] = notify.ID
	transaction["event_type"] = notify.EventType
	return &CallbackEvent{
		OrderNo:              orderNo,
		GatewayTransactionID: transactionID,
		Amount:               amount,
		TradeState:           tradeState,
		TradeSucceeded:       tradeState == "SUCCESS",
		Signature: signature.Fields{
			Protocol:  constants.WechatAPIVersionV3,
			Serial:    strings.TrimSpace(headers.Get(HeaderSerial)),
			Timestamp: strings.TrimSpace(headers.Get(HeaderTimestamp)),
			Nonce:     strings.TrimSpace(headers.Get(HeaderNonce)),
			Provided:  strings.TrimSpace(headers.Get(HeaderSignature)),
			Body:      string(body),
		},
		Raw: transaction,
	}, nil
}

type v2Ack struct {
	XMLName    xml.Name   `xml:"xml"`
	ReturnCode cdataValue `xml:"return_code"`
	ReturnMsg  cdataValue `xml:"return_msg"`
}

// BuildAcknowledgement 构造协议应答：v2 始终 HTTP 200 + XML，v3 失败时返回 500 触发网关重试
func (c *Client) BuildAcknowledgement(success bool, message string) Acknowledgement {
	return BuildAcknowledgement(c.cfg.APIVersion, success, message)
}

// BuildAcknowledgement 按协议版本构造应答
func BuildAcknowledgement(apiVersion string, success bool, message string) Acknowledgement {
	if strings.EqualFold(apiVersion, constants.WechatAPIVersionV3) {
		code := "SUCCESS"
		status := http.StatusOK
		if !success {
			code = "FAIL"
			status = http.StatusInternalServerError
		} else if message == "" {
			message = "成功"
		}
		body, _ := json.Marshal(map[string]string{"code": code, "message": message})
		return Acknowledgement{StatusCode: status, ContentType: "application/json; charset=utf-8", Body: body, Accepted: success}
	}

	code := "SUCCESS"
	if !success {
		code = "FAIL"
	} else if message == "" {
		message = "OK"
	}
	body, _ := xml.Marshal(v2Ack{ReturnCode: cdataValue{Value: code}, ReturnMsg: cdataValue{Value: message}})
	return Acknowledgement{StatusCode: http.StatusOK, ContentType: "text/xml; charset=utf-8", Body: body, Accepted: success}
}
