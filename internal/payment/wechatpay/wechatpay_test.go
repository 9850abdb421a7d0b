package wechatpay

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jifen-next/internal/payment/signature"
	"github.com/jifen-next/internal/payment/signature/sigtest"
)

const (
	testAPIKey   = "192006250b4c09247ec02edce69f6a2d"
	testAPIV3Key = "12345678901234567890123456789012"
)

type testGateway struct {
	client   *Client
	merchant sigtest.KeyPair
	platform sigtest.KeyPair
}

func newTestGateway(t *testing.T, version, signType, baseURL string) testGateway {
	t.Helper()
	merchant := sigtest.NewKeyPair(t, 301)
	platform := sigtest.NewKeyPair(t, 302)
	engine, err := signature.NewEngine(signature.Config{
		APIVersion:         version,
		APIKey:             testAPIKey,
		SignType:           signType,
		MerchantPrivateKey: merchant.PrivateKeyPEM,
		APIV3Key:           testAPIV3Key,
		PlatformCerts:      []string{platform.CertPEM},
	})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	client, err := NewClient(context.Background(), Config{
		APIVersion:         version,
		AppID:              "wx1234567890",
		MchID:              "1900000109",
		MerchantSerialNo:   merchant.Serial,
		MerchantPrivateKey: merchant.PrivateKeyPEM,
		APIV3Key:           testAPIV3Key,
		NotifyURL:          "https://example.com/api/v1/payments/notify",
		BaseURL:            baseURL,
		Timeout:            500 * time.Millisecond,
	}, engine)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	client.now = func() time.Time { return time.Unix(1700000000, 0) }
	client.nonce = func() string { return "fixednonce" }
	return testGateway{client: client, merchant: merchant, platform: platform}
}

// writeSignedJSON 以平台私钥为 v3 应答签名，模拟网关应答头
func (gw testGateway) writeSignedJSON(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderSerial, gw.platform.Serial)
	w.Header().Set(HeaderTimestamp, timestamp)
	w.Header().Set(HeaderNonce, "resp-nonce")
	w.Header().Set(HeaderSignature, gw.platform.SignV3(t, timestamp, "resp-nonce", body))
	_, _ = w.Write([]byte(body))
}

func signedXML(t *testing.T, fields map[string]string, signType string) []byte {
	t.Helper()
	sign, err := signature.Sign(fields, testAPIKey, signType)
	if err != nil {
		t.Fatalf("sign fields failed: %v", err)
	}
	fields[signature.FieldSign] = sign
	body, err := encodeXML(fields)
	if err != nil {
		t.Fatalf("encode xml failed: %v", err)
	}
	return body
}

func TestCreateOrderV2Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pay/unifiedorder" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		fields, err := decodeXML(body)
		if err != nil {
			t.Errorf("decode request failed: %v", err)
		}
		if !signature.Verify(fields, fields["sign"], testAPIKey, "MD5") {
			t.Errorf("request signature invalid: %v", fields)
		}
		if fields["total_fee"] != "5000" || fields["out_trade_no"] != "JF01TEST" || fields["trade_type"] != "JSAPI" {
			t.Errorf("unexpected request fields: %v", fields)
		}
		if fields["sub_mch_id"] != "1900000200" || fields["sub_openid"] != "openid-1" {
			t.Errorf("sub merchant fields missing: %v", fields)
		}
		_, _ = w.Write(signedXML(t, map[string]string{
			"return_code": "SUCCESS",
			"result_code": "SUCCESS",
			"prepay_id":   "wx201410272009395522657a690389285100",
			"trade_type":  "JSAPI",
		}, "MD5"))
	}))
	defer server.Close()

	gw := newTestGateway(t, "v2", "MD5", server.URL)
	result, err := gw.client.CreateOrder(context.Background(), CreateOrderInput{
		OrderNo:     "JF01TEST",
		Amount:      5000,
		Description: "测试商户收款",
		PayerOpenID: "openid-1",
		SubMchID:    "1900000200",
		ClientIP:    "10.0.0.1:5432",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if result.PaymentToken != "wx201410272009395522657a690389285100" {
		t.Fatalf("unexpected token: %s", result.PaymentToken)
	}
	params := result.PayParams
	if params.Package != "prepay_id=wx201410272009395522657a690389285100" || params.SignType != "MD5" || params.TimeStamp != "1700000000" {
		t.Fatalf("unexpected pay params: %+v", params)
	}
	if !signature.Verify(map[string]string{
		"appId":     params.AppID,
		"timeStamp": params.TimeStamp,
		"nonceStr":  params.NonceStr,
		"package":   params.Package,
		"signType":  params.SignType,
	}, params.PaySign, testAPIKey, "MD5") {
		t.Fatalf("pay sign does not verify")
	}
}

func TestCreateOrderV2Outcomes(t *testing.T) {
	cases := []struct {
		name    string
		respond func(t *testing.T, w http.ResponseWriter)
		check   func(t *testing.T, err error)
	}{
		{
			name: "business error",
			respond: func(t *testing.T, w http.ResponseWriter) {
				_, _ = w.Write(signedXML(t, map[string]string{
					"return_code":  "SUCCESS",
					"result_code":  "FAIL",
					"err_code":     "ORDERPAID",
					"err_code_des": "该订单已支付",
				}, "MD5"))
			},
			check: func(t *testing.T, err error) {
				var gatewayErr *GatewayError
				if !errors.As(err, &gatewayErr) || gatewayErr.Code != "ORDERPAID" {
					t.Fatalf("expected ORDERPAID gateway error, got %v", err)
				}
				if !errors.Is(err, ErrGatewayBusiness) {
					t.Fatalf("gateway error should wrap ErrGatewayBusiness")
				}
			},
		},
		{
			name: "communication failure",
			respond: func(t *testing.T, w http.ResponseWriter) {
				_, _ = w.Write([]byte(`<xml><return_code><![CDATA[FAIL]]></return_code><return_msg><![CDATA[签名错误]]></return_msg></xml>`))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrGatewayBusiness) {
					t.Fatalf("expected business error, got %v", err)
				}
			},
		},
		{
			name: "bad signature",
			respond: func(t *testing.T, w http.ResponseWriter) {
				_, _ = w.Write([]byte(`<xml><return_code>SUCCESS</return_code><result_code>SUCCESS</result_code><prepay_id>wx1</prepay_id><sign>BAD</sign></xml>`))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrResponseInvalid) {
					t.Fatalf("expected ErrResponseInvalid, got %v", err)
				}
			},
		},
		{
			name: "not xml",
			respond: func(t *testing.T, w http.ResponseWriter) {
				_, _ = w.Write([]byte(`<html>oops`))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrResponseInvalid) {
					t.Fatalf("expected ErrResponseInvalid, got %v", err)
				}
			},
		},
		{
			name: "server error",
			respond: func(t *testing.T, w http.ResponseWriter) {
				w.WriteHeader(http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrGatewayUnavailable) {
					t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tc.respond(t, w)
			}))
			defer server.Close()

			gw := newTestGateway(t, "v2", "MD5", server.URL)
			_, err := gw.client.CreateOrder(context.Background(), CreateOrderInput{
				OrderNo: "JF01OUTCOME", Amount: 100, PayerOpenID: "openid-1",
			})
			if err == nil {
				t.Fatalf("expected error")
			}
			tc.check(t, err)
		})
	}
}

func TestCreateOrderV2Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	gw := newTestGateway(t, "v2", "MD5", server.URL)
	_, err := gw.client.CreateOrder(context.Background(), CreateOrderInput{
		OrderNo: "JF01SLOW", Amount: 100, PayerOpenID: "openid-1",
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable on timeout, got %v", err)
	}
}

func TestCreateOrderV3PartnerSuccess(t *testing.T) {
	var gw testGateway
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/pay/partner/transactions/jsapi" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "WECHATPAY2-SHA256-RSA2048") {
			t.Errorf("missing v3 authorization header")
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		if payload["sub_mchid"] != "1900000200" || payload["sp_mchid"] != "1900000109" {
			t.Errorf("unexpected partner fields: %v", payload)
		}
		amount, _ := payload["amount"].(map[string]interface{})
		if amount["total"] != float64(5000) {
			t.Errorf("unexpected amount: %v", payload["amount"])
		}
		gw.writeSignedJSON(t, w, `{"prepay_id":"wx-v3-prepay"}`)
	}))
	defer server.Close()

	gw = newTestGateway(t, "v3", "", server.URL)
	result, err := gw.client.CreateOrder(context.Background(), CreateOrderInput{
		OrderNo: "JF01V3", Amount: 5000, PayerOpenID: "openid-1", SubMchID: "1900000200",
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	params := result.PayParams
	if params.SignType != "RSA" || params.Package != "prepay_id=wx-v3-prepay" {
		t.Fatalf("unexpected pay params: %+v", params)
	}
	verifier, err := signature.NewCertVerifier([]string{gw.merchant.CertPEM})
	if err != nil {
		t.Fatalf("build verifier failed: %v", err)
	}
	message := signature.BuildV3Message(params.AppID, params.TimeStamp, params.NonceStr, params.Package)
	if err := verifier.Verify(context.Background(), gw.merchant.Serial, message, params.PaySign); err != nil {
		t.Fatalf("pay sign does not verify: %v", err)
	}
}

func TestCreateOrderV3BusinessError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/pay/transactions/jsapi" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"PARAM_ERROR","message":"openid 不合法"}`))
	}))
	defer server.Close()

	gw := newTestGateway(t, "v3", "", server.URL)
	_, err := gw.client.CreateOrder(context.Background(), CreateOrderInput{
		OrderNo: "JF01V3ERR", Amount: 100, PayerOpenID: "bad",
	})
	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) || gatewayErr.Code != "PARAM_ERROR" {
		t.Fatalf("expected PARAM_ERROR, got %v", err)
	}
}

func TestParseCallbackV2(t *testing.T) {
	gw := newTestGateway(t, "v2", "MD5", "https://api.mch.weixin.qq.com")
	body := signedXML(t, map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"out_trade_no":   "JF01CB",
		"transaction_id": "4200000001",
		"total_fee":      "5000",
	}, "MD5")

	event, err := gw.client.ParseCallback(http.Header{}, body)
	if err != nil {
		t.Fatalf("parse callback failed: %v", err)
	}
	if event.OrderNo != "JF01CB" || event.Amount != 5000 || !event.TradeSucceeded || event.GatewayTransactionID != "4200000001" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Signature.Protocol != "v2" || event.Signature.Provided == "" {
		t.Fatalf("signature fields missing: %+v", event.Signature)
	}
	if _, ok := event.Raw["sign"]; ok {
		t.Fatalf("raw audit fields must not contain sign")
	}

	for _, bad := range []string{"", "not-xml", `<xml><total_fee>1</total_fee></xml>`, `<xml><out_trade_no>A</out_trade_no><return_code>SUCCESS</return_code><result_code>SUCCESS</result_code><total_fee>abc</total_fee></xml>`} {
		if _, err := gw.client.ParseCallback(http.Header{}, []byte(bad)); !errors.Is(err, ErrCallbackMalformed) {
			t.Fatalf("expected malformed for %q, got %v", bad, err)
		}
	}
}

func encryptV3Resource(t *testing.T, key, nonce, associated, plaintext string) string {
	t.Helper()
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		t.Fatalf("new cipher failed: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("new gcm failed: %v", err)
	}
	sealed := gcm.Seal(nil, []byte(nonce), []byte(plaintext), []byte(associated))
	return base64.StdEncoding.EncodeToString(sealed)
}

func TestParseCallbackV3(t *testing.T) {
	gw := newTestGateway(t, "v3", "", "https://api.mch.weixin.qq.com")
	resource := `{"out_trade_no":"JF01V3CB","transaction_id":"4200000002","trade_state":"SUCCESS","amount":{"total":5000,"currency":"CNY"}}`
	body := `{"id":"EV-1","event_type":"TRANSACTION.SUCCESS","resource_type":"encrypt-resource","resource":{"algorithm":"AEAD_AES_256_GCM","ciphertext":"` +
		encryptV3Resource(t, testAPIV3Key, "abcdefghijkl", "transaction", resource) +
		`","associated_data":"transaction","nonce":"abcdefghijkl","original_type":"transaction"}}`

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	headers := http.Header{}
	headers.Set(HeaderSerial, gw.platform.Serial)
	headers.Set(HeaderTimestamp, timestamp)
	headers.Set(HeaderNonce, "n-1")
	headers.Set(HeaderSignature, gw.platform.SignV3(t, timestamp, "n-1", body))

	event, err := gw.client.ParseCallback(headers, []byte(body))
	if err != nil {
		t.Fatalf("parse callback failed: %v", err)
	}
	if event.OrderNo != "JF01V3CB" || event.Amount != 5000 || !event.TradeSucceeded {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Signature.Serial != gw.platform.Serial || event.Signature.Body != body {
		t.Fatalf("unexpected signature fields: %+v", event.Signature)
	}

	engine, err := signature.NewEngine(signature.Config{
		APIVersion:         "v3",
		APIV3Key:           testAPIV3Key,
		MerchantPrivateKey: gw.merchant.PrivateKeyPEM,
		PlatformCerts:      []string{gw.platform.CertPEM},
	})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	if err := engine.VerifyCallback(context.Background(), event.Signature); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}

	tampered := strings.Replace(body, "EV-1", "EV-2", 1)
	if _, err := gw.client.ParseCallback(headers, []byte(`{"id":"x"}`)); !errors.Is(err, ErrCallbackMalformed) {
		t.Fatalf("missing resource should be malformed, got %v", err)
	}
	event, err = gw.client.ParseCallback(headers, []byte(tampered))
	if err != nil {
		t.Fatalf("tampered body still parses: %v", err)
	}
	if err := engine.VerifyCallback(context.Background(), event.Signature); err == nil {
		t.Fatalf("tampered body must fail verification")
	}
}

func TestCreateOrderV3RejectsUnsignedResponse(t *testing.T) {
	var gw testGateway
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prepay_id":"wx-forged"}`))
	}))
	defer server.Close()

	gw = newTestGateway(t, "v3", "", server.URL)
	_, err := gw.client.CreateOrder(context.Background(), CreateOrderInput{
		OrderNo: "JF01V3FORGE", Amount: 100, PayerOpenID: "openid-1",
	})
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("unsigned response should be ErrResponseInvalid, got %v", err)
	}

	// 使用商户私钥伪造的平台签名同样拒绝
	forged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"prepay_id":"wx-forged"}`
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderSerial, gw.platform.Serial)
		w.Header().Set(HeaderTimestamp, timestamp)
		w.Header().Set(HeaderNonce, "resp-nonce")
		w.Header().Set(HeaderSignature, gw.merchant.SignV3(t, timestamp, "resp-nonce", body))
		_, _ = w.Write([]byte(body))
	}))
	defer forged.Close()

	gw = newTestGateway(t, "v3", "", forged.URL)
	_, err = gw.client.QueryOrder(context.Background(), "JF01V3FORGE", "")
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("forged response should be ErrResponseInvalid, got %v", err)
	}
}

func TestParseCallbackRequiresTransactionIDOnSuccess(t *testing.T) {
	v2 := newTestGateway(t, "v2", "MD5", "https://api.mch.weixin.qq.com")
	body := signedXML(t, map[string]string{
		"return_code":  "SUCCESS",
		"result_code":  "SUCCESS",
		"out_trade_no": "JF01NOTXN",
		"total_fee":    "5000",
	}, "MD5")
	if _, err := v2.client.ParseCallback(http.Header{}, body); !errors.Is(err, ErrCallbackMalformed) {
		t.Fatalf("v2 success without transaction_id should be malformed, got %v", err)
	}

	// 失败通知没有交易号属于正常情况
	failed := signedXML(t, map[string]string{
		"return_code":  "SUCCESS",
		"result_code":  "FAIL",
		"out_trade_no": "JF01NOTXN",
		"err_code":     "ORDERCLOSED",
	}, "MD5")
	event, err := v2.client.ParseCallback(http.Header{}, failed)
	if err != nil {
		t.Fatalf("failed trade notice should parse: %v", err)
	}
	if event.TradeSucceeded || event.GatewayTransactionID != "" {
		t.Fatalf("unexpected event: %+v", event)
	}

	v3 := newTestGateway(t, "v3", "", "https://api.mch.weixin.qq.com")
	resource := `{"out_trade_no":"JF01NOTXN","transaction_id":"  ","trade_state":"SUCCESS","amount":{"total":5000}}`
	v3Body := `{"id":"EV-9","resource":{"algorithm":"AEAD_AES_256_GCM","ciphertext":"` +
		encryptV3Resource(t, testAPIV3Key, "abcdefghijkl", "transaction", resource) +
		`","associated_data":"transaction","nonce":"abcdefghijkl"}}`
	if _, err := v3.client.ParseCallback(http.Header{}, []byte(v3Body)); !errors.Is(err, ErrCallbackMalformed) {
		t.Fatalf("v3 success without transaction_id should be malformed, got %v", err)
	}
}

func TestParseCallbackV2KeepsRawValuesForSignature(t *testing.T) {
	gw := newTestGateway(t, "v2", "MD5", "https://api.mch.weixin.qq.com")
	fields := map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"out_trade_no":   " JF01PAD ",
		"transaction_id": "4200000009",
		"total_fee":      "5000",
		"attach":         "  备注  ",
	}
	body := signedXML(t, fields, "MD5")

	event, err := gw.client.ParseCallback(http.Header{}, body)
	if err != nil {
		t.Fatalf("parse callback failed: %v", err)
	}
	if event.OrderNo != "JF01PAD" {
		t.Fatalf("domain fields should be trimmed, got %q", event.OrderNo)
	}
	if event.Signature.Params["attach"] != "  备注  " || event.Signature.Params["out_trade_no"] != " JF01PAD " {
		t.Fatalf("signature params must keep raw values: %+v", event.Signature.Params)
	}

	engine, err := signature.NewEngine(signature.Config{APIVersion: "v2", APIKey: testAPIKey, SignType: "MD5"})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	if err := engine.VerifyCallback(context.Background(), event.Signature); err != nil {
		t.Fatalf("padded values signed by the gateway must verify: %v", err)
	}
}

func TestBuildAcknowledgement(t *testing.T) {
	ack := BuildAcknowledgement("v2", true, "")
	if ack.StatusCode != http.StatusOK || !ack.Accepted {
		t.Fatalf("unexpected v2 ack: %+v", ack)
	}
	if string(ack.Body) != "<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>" {
		t.Fatalf("unexpected v2 ack body: %s", ack.Body)
	}
	ack = BuildAcknowledgement("v2", false, "签名失败")
	if ack.StatusCode != http.StatusOK || ack.Accepted || !strings.Contains(string(ack.Body), "<![CDATA[FAIL]]>") {
		t.Fatalf("unexpected v2 failure ack: %+v %s", ack, ack.Body)
	}

	ack = BuildAcknowledgement("v3", true, "")
	if ack.StatusCode != http.StatusOK || string(ack.Body) != `{"code":"SUCCESS","message":"成功"}` {
		t.Fatalf("unexpected v3 ack: %d %s", ack.StatusCode, ack.Body)
	}
	ack = BuildAcknowledgement("v3", false, "金额不一致")
	if ack.StatusCode != http.StatusInternalServerError || string(ack.Body) != `{"code":"FAIL","message":"金额不一致"}` {
		t.Fatalf("unexpected v3 failure ack: %d %s", ack.StatusCode, ack.Body)
	}
}

func TestQueryOrderV2(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pay/orderquery" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write(signedXML(t, map[string]string{
			"return_code":    "SUCCESS",
			"result_code":    "SUCCESS",
			"out_trade_no":   "JF01Q",
			"trade_state":    "SUCCESS",
			"transaction_id": "4200000003",
			"total_fee":      "1234",
		}, "MD5"))
	}))
	defer server.Close()

	gw := newTestGateway(t, "v2", "MD5", server.URL)
	result, err := gw.client.QueryOrder(context.Background(), "JF01Q", "")
	if err != nil {
		t.Fatalf("query order failed: %v", err)
	}
	if !result.Paid() || result.Amount != 1234 || result.TransactionID != "4200000003" {
		t.Fatalf("unexpected query result: %+v", result)
	}
}

func TestQueryOrderV3(t *testing.T) {
	var gw testGateway
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/pay/transactions/out-trade-no/JF01Q3" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("mchid") != "1900000109" {
			t.Errorf("unexpected mchid: %s", r.URL.Query().Get("mchid"))
		}
		gw.writeSignedJSON(t, w, `{"out_trade_no":"JF01Q3","trade_state":"NOTPAY","amount":{"total":500}}`)
	}))
	defer server.Close()

	gw = newTestGateway(t, "v3", "", server.URL)
	result, err := gw.client.QueryOrder(context.Background(), "JF01Q3", "")
	if err != nil {
		t.Fatalf("query order failed: %v", err)
	}
	if result.Paid() || result.TradeState != "NOTPAY" || result.Amount != 500 {
		t.Fatalf("unexpected query result: %+v", result)
	}
}

func TestNewClientRejectsVersionMismatch(t *testing.T) {
	engine, err := signature.NewEngine(signature.Config{APIVersion: "v2", APIKey: testAPIKey})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	_, err = NewClient(context.Background(), Config{
		APIVersion: "v3",
		AppID:      "wx1",
		MchID:      "1",
		NotifyURL:  "https://example.com/notify",
	}, engine)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}
