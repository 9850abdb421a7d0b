package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/constants"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/payment/wechatpay"
	"github.com/jifen-next/internal/queue"
	"github.com/jifen-next/internal/repository"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

const (
	orderNoPrefix          = "JF"
	defaultOrderMaxAmount  = int64(5000000)
	orderDescriptionMaxLen = 64
	defaultOrderPageSize   = 20
)

// OrderService 支付订单服务
type OrderService struct {
	orderRepo     repository.PaymentOrderRepository
	userRepo      repository.UserRepository
	merchantRepo  repository.MerchantRepository
	pointsService *PointsService
	gateway       PaymentGateway
	tasks         TaskEnqueuer
	cfg           config.OrderConfig
}

// NewOrderService 创建订单服务
func NewOrderService(orderRepo repository.PaymentOrderRepository, userRepo repository.UserRepository, merchantRepo repository.MerchantRepository, pointsService *PointsService, gateway PaymentGateway, tasks TaskEnqueuer, cfg config.OrderConfig) *OrderService {
	return &OrderService{
		orderRepo:     orderRepo,
		userRepo:      userRepo,
		merchantRepo:  merchantRepo,
		pointsService: pointsService,
		gateway:       gateway,
		tasks:         tasks,
		cfg:           cfg,
	}
}

// CreateOrderInput 创建支付订单输入，金额单位为分
type CreateOrderInput struct {
	UserID      uint
	MerchantID  uint
	Amount      int64
	Description string
}

// PaymentInitiation 发起支付结果
type PaymentInitiation struct {
	OrderNo   string              `json:"order_no"`
	Amount    int64               `json:"amount"`
	ExpiresAt time.Time           `json:"expires_at"`
	PayParams wechatpay.PayParams `json:"pay_params"`
}

// OrderStatusView 订单状态查询结果，pending 订单附带网关侧交易状态
type OrderStatusView struct {
	Order             *models.PaymentOrder
	GatewayTradeState string
}

// RefundResult 退款结果
type RefundResult struct {
	Order            *models.PaymentOrder
	PointsClawedBack int64
}

// CreateOrder 创建待支付订单，不访问网关
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.PaymentOrder, error) {
	maxAmount := s.cfg.MaxAmount
	if maxAmount <= 0 {
		maxAmount = defaultOrderMaxAmount
	}
	if input.Amount < 1 || input.Amount > maxAmount {
		return nil, fmt.Errorf("%w: amount must be between 1 and %d", ErrValidation, maxAmount)
	}
	user, err := s.userRepo.GetByID(input.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status == constants.UserStatusDisabled {
		return nil, ErrUserNotFound
	}
	merchant, err := s.merchantRepo.GetByID(input.MerchantID)
	if err != nil {
		return nil, err
	}
	if merchant == nil || merchant.Status != constants.MerchantStatusActive {
		return nil, ErrMerchantNotFound
	}

	now := time.Now()
	ttl := s.cfg.PaymentTTL()
	order := &models.PaymentOrder{
		OrderNo:     generateOrderNo(),
		UserID:      user.ID,
		MerchantID:  merchant.ID,
		Amount:      input.Amount,
		Description: normalizeOrderDescription(input.Description, merchant.Name),
		Status:      constants.OrderStatusPending,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orderRepo.Create(order); err != nil {
		return nil, err
	}
	logger.Infow("order_created",
		"order_no", order.OrderNo,
		"user_id", order.UserID,
		"merchant_id", order.MerchantID,
		"amount", order.Amount,
	)
	if s.tasks != nil {
		logger.BestEffort("order_enqueue_expire", func() error {
			return s.tasks.EnqueueOrderExpire(queue.OrderExpirePayload{OrderID: order.ID}, ttl)
		}, "order_no", order.OrderNo)
	}
	return order, nil
}

// InitiatePayment 向网关下单并返回小程序支付参数；同一订单号重复发起由网关保证幂等
func (s *OrderService) InitiatePayment(ctx context.Context, orderNo string, userID uint, clientIP string) (*PaymentInitiation, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: gateway not configured", ErrGatewayUnavailable)
	}
	order, err := s.findUserOrder(userID, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status != constants.OrderStatusPending {
		return nil, ErrOrderStatusInvalid
	}
	if !order.ExpiresAt.After(time.Now()) {
		if _, err := s.orderRepo.TransitionFromPending(order.ID, constants.OrderStatusExpired); err != nil {
			logger.Warnw("order_lazy_expire_failed", "order_no", order.OrderNo, "error", err)
		}
		return nil, ErrOrderStatusInvalid
	}
	user, err := s.userRepo.GetByID(order.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	merchant, err := s.merchantRepo.GetByID(order.MerchantID)
	if err != nil {
		return nil, err
	}
	if merchant == nil || merchant.Status != constants.MerchantStatusActive {
		return nil, ErrMerchantNotFound
	}

	result, err := s.gateway.CreateOrder(ctx, wechatpay.CreateOrderInput{
		OrderNo:     order.OrderNo,
		Amount:      order.Amount,
		Description: order.Description,
		PayerOpenID: user.OpenID,
		SubMchID:    merchant.SubMchID,
		ClientIP:    clientIP,
	})
	if err != nil {
		var gatewayErr *wechatpay.GatewayError
		switch {
		case errors.As(err, &gatewayErr):
			logger.Warnw("order_initiate_payment_rejected",
				"order_no", order.OrderNo,
				"code", gatewayErr.Code,
				"message", gatewayErr.Message,
			)
		case errors.Is(err, ErrGatewayUnavailable):
			logger.Warnw("order_initiate_payment_unavailable", "order_no", order.OrderNo, "error", err)
		default:
			logger.Errorw("order_initiate_payment_failed", "order_no", order.OrderNo, "error", err)
		}
		return nil, err
	}
	if err := s.orderRepo.UpdatePrepayID(order.ID, result.PaymentToken); err != nil {
		logger.Warnw("order_update_prepay_id_failed", "order_no", order.OrderNo, "error", err)
	}
	logger.Infow("order_initiate_payment_ok", "order_no", order.OrderNo, "amount", order.Amount)
	return &PaymentInitiation{
		OrderNo:   order.OrderNo,
		Amount:    order.Amount,
		ExpiresAt: order.ExpiresAt,
		PayParams: result.PayParams,
	}, nil
}

// FindByOrderNo 按订单号查询订单
func (s *OrderService) FindByOrderNo(orderNo string) (*models.PaymentOrder, error) {
	order, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetUserOrderStatus 查询用户订单；pending 订单会查询网关交易状态，结算仍以回调为准
func (s *OrderService) GetUserOrderStatus(ctx context.Context, userID uint, orderNo string) (*OrderStatusView, error) {
	order, err := s.findUserOrder(userID, orderNo)
	if err != nil {
		return nil, err
	}
	view := &OrderStatusView{Order: order}
	if order.Status != constants.OrderStatusPending || s.gateway == nil {
		return view, nil
	}
	merchantSubMchID := ""
	if merchant, err := s.merchantRepo.GetByID(order.MerchantID); err == nil && merchant != nil {
		merchantSubMchID = merchant.SubMchID
	}
	result, err := s.gateway.QueryOrder(ctx, order.OrderNo, merchantSubMchID)
	if err != nil {
		logger.Debugw("order_gateway_query_failed", "order_no", order.OrderNo, "error", err)
		return view, nil
	}
	view.GatewayTradeState = result.TradeState
	if result.Paid() {
		logger.Infow("order_gateway_paid_awaiting_callback", "order_no", order.OrderNo, "transaction_id", result.TransactionID)
	}
	return view, nil
}

// TransitionToPaid 在调用方事务内执行 pending -> paid 条件更新；返回 false 表示订单已不是 pending
func (s *OrderService) TransitionToPaid(tx *gorm.DB, orderID uint, gatewayTxnID string, points int64) (bool, error) {
	return s.orderRepo.WithTx(tx).MarkPaid(orderID, gatewayTxnID, points, time.Now())
}

// ExpireStalePending 批量关闭过期订单
func (s *OrderService) ExpireStalePending(now time.Time) (int64, error) {
	affected, err := s.orderRepo.ExpireStalePending(now)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		logger.Infow("order_expire_sweep_done", "expired", affected)
	}
	return affected, nil
}

// ExpireOrder 单笔订单到期关闭，由延迟任务触发
func (s *OrderService) ExpireOrder(orderID uint) (*models.PaymentOrder, error) {
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != constants.OrderStatusPending || order.ExpiresAt.After(time.Now()) {
		return order, nil
	}
	expired, err := s.orderRepo.TransitionFromPending(order.ID, constants.OrderStatusExpired)
	if err != nil {
		return nil, err
	}
	if expired {
		order.Status = constants.OrderStatusExpired
		logger.Infow("order_expired", "order_no", order.OrderNo)
		return order, nil
	}
	return s.orderRepo.GetByID(order.ID)
}

// CancelOrder 用户取消待支付订单
func (s *OrderService) CancelOrder(userID uint, orderNo string) (*models.PaymentOrder, error) {
	order, err := s.findUserOrder(userID, orderNo)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.orderRepo.TransitionFromPending(order.ID, constants.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, ErrOrderStatusInvalid
	}
	order.Status = constants.OrderStatusCancelled
	logger.Infow("order_cancelled", "order_no", order.OrderNo, "user_id", userID)
	return order, nil
}

// RefundOrder paid -> refunded，同一事务内回收本单发放的积分（余额不足时扣到 0）
func (s *OrderService) RefundOrder(ctx context.Context, orderNo string, reason string) (*RefundResult, error) {
	result := &RefundResult{}
	err := s.orderRepo.Transaction(func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		order, err := orderRepo.GetByOrderNoForUpdate(orderNo)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		refunded, err := orderRepo.MarkRefunded(order.ID)
		if err != nil {
			return err
		}
		if !refunded {
			return ErrOrderStatusInvalid
		}
		order.Status = constants.OrderStatusRefunded
		result.Order = order

		if order.PointsAwarded == nil || *order.PointsAwarded <= 0 || s.pointsService == nil {
			return nil
		}
		description := fmt.Sprintf("订单 %s 退款回收积分", order.OrderNo)
		if text := strings.TrimSpace(reason); text != "" {
			description = fmt.Sprintf("%s：%s", description, text)
		}
		record, err := s.pointsService.ClawbackInTx(tx, order.UserID, *order.PointsAwarded, &order.ID, description)
		if err != nil {
			return err
		}
		if record != nil {
			result.PointsClawedBack = -record.PointsChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.pointsService != nil {
		s.pointsService.InvalidateBalance(ctx, result.Order.UserID)
	}
	logger.Infow("order_refunded",
		"order_no", result.Order.OrderNo,
		"points_clawed_back", result.PointsClawedBack,
		"reason", reason,
	)
	return result, nil
}

// ListUserOrders 分页查询用户订单
func (s *OrderService) ListUserOrders(filter repository.PaymentOrderListFilter) ([]models.PaymentOrder, int64, error) {
	if filter.UserID == 0 {
		return nil, 0, ErrUserNotFound
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultOrderPageSize
	}
	return s.orderRepo.List(filter)
}

func (s *OrderService) findUserOrder(userID uint, orderNo string) (*models.PaymentOrder, error) {
	order, err := s.FindByOrderNo(orderNo)
	if err != nil {
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// generateOrderNo 生成订单号：JF + ULID（毫秒时间 + 进程内单调递增随机段）
func generateOrderNo() string {
	return orderNoPrefix + ulid.Make().String()
}

func normalizeOrderDescription(raw string, merchantName string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = strings.TrimSpace(merchantName)
	}
	if text == "" {
		text = "商户收款"
	}
	runes := []rune(text)
	if len(runes) > orderDescriptionMaxLen {
		text = string(runes[:orderDescriptionMaxLen])
	}
	return text
}
