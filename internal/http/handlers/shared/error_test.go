package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/jifen-next/internal/http/response"
	"github.com/jifen-next/internal/payment/wechatpay"
	"github.com/jifen-next/internal/service"

	"github.com/gin-gonic/gin"
)

func serveServiceError(t *testing.T, err error) (int, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)
	RespondServiceError(c, err)

	var resp struct {
		StatusCode int    `json:"status_code"`
		Msg        string `json:"msg"`
	}
	if decodeErr := json.Unmarshal(w.Body.Bytes(), &resp); decodeErr != nil {
		t.Fatalf("unmarshal response failed: %v", decodeErr)
	}
	return resp.StatusCode, resp.Msg
}

func TestRespondServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"validation wrapped", fmt.Errorf("%w: amount", service.ErrValidation), response.CodeBadRequest, MsgBadRequest},
		{"insufficient balance", service.ErrInsufficientBalance, response.CodeBadRequest, service.ErrInsufficientBalance.Error()},
		{"order not found", service.ErrOrderNotFound, response.CodeNotFound, service.ErrOrderNotFound.Error()},
		{"status conflict", service.ErrOrderStatusInvalid, response.CodeConflict, service.ErrOrderStatusInvalid.Error()},
		{"gateway business", &wechatpay.GatewayError{Code: "ORDERPAID", Message: "该订单已支付"}, response.CodeGatewayFailed, MsgPaymentInitiateFailed},
		{"gateway malformed", wechatpay.ErrResponseInvalid, response.CodeGatewayFailed, MsgPaymentInitiateFailed},
		{"gateway unavailable", fmt.Errorf("%w: timeout", service.ErrGatewayUnavailable), response.CodeGatewayTimeout, MsgPaymentQueryStatus},
		{"unknown", errors.New("boom"), response.CodeInternal, MsgInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := serveServiceError(t, tc.err)
			if code != tc.code || msg != tc.msg {
				t.Fatalf("want %d %q, got %d %q", tc.code, tc.msg, code, msg)
			}
		})
	}
}
