package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusOK is the callback status of a payment the buyer completed
const StatusOK = "OK"

// VerifyOutcome is the result reported to the callback caller
type VerifyOutcome string

// Verify outcomes
const (
	OutcomeSuccess  VerifyOutcome = "success"
	OutcomeFailed   VerifyOutcome = "failed"
	OutcomeCanceled VerifyOutcome = "canceled"
)

// PaymentConfig tunes PaymentService
type PaymentConfig struct {
	// Multiplier converts order totals into gateway units
	Multiplier  decimal.Decimal
	CallbackURL string
	LockTTL     time.Duration
}

// PaymentService runs the start/verify round trip with the gateway
type PaymentService struct {
	repo    store.Repository
	orders  *OrderService
	gateway PaymentGateway
	locker  Locker
	cfg     PaymentConfig
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service. locker is optional.
func NewPaymentService(
	repo store.Repository,
	orders *OrderService,
	gw PaymentGateway,
	locker Locker,
	cfg PaymentConfig,
) *PaymentService {
	if !cfg.Multiplier.IsPositive() {
		cfg.Multiplier = decimal.NewFromInt(1)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &PaymentService{
		repo:    repo,
		orders:  orders,
		gateway: gw,
		locker:  locker,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// StartResult tells the buyer where to pay
type StartResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	Authority   string    `json:"authority"`
	RedirectURL string    `json:"redirect_url"`
	Amount      int64     `json:"amount"`
}

// VerifyResult is the outcome of a gateway callback
type VerifyResult struct {
	OrderID uuid.UUID          `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
	Outcome VerifyOutcome      `json:"outcome,omitempty"`
	RefID   string             `json:"ref_id,omitempty"`
	Code    int                `json:"code,omitempty"`
}

// GatewayAmount converts an order total into gateway units
func (s *PaymentService) GatewayAmount(total decimal.Decimal) int64 {
	return total.Mul(s.cfg.Multiplier).Round(0).IntPart()
}

// StartPayment opens a gateway payment for one of the user's pending orders.
// Nothing is persisted unless the gateway accepts.
func (s *PaymentService) StartPayment(ctx context.Context, userID, orderID uuid.UUID) (*StartResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.StartPayment")
	defer span.End()

	order, err := s.orders.ownedOrder(ctx, s.repo, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		util.PaymentStartsTotal.WithLabelValues("not_payable").Inc()
		return nil, apperr.NotFound("order %s is not payable", orderID)
	}

	payment, err := s.repo.GetPaymentByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal(fmt.Errorf("failed to get payment: %w", err))
	}
	if payment != nil && payment.Status.IsFinal() {
		util.PaymentStartsTotal.WithLabelValues("already_paid").Inc()
		return nil, apperr.Conflict("order %s is already paid", orderID)
	}

	amount := s.GatewayAmount(order.TotalAmount)
	if amount <= 0 {
		return nil, apperr.Validation("order total must be positive")
	}

	res, err := s.gateway.RequestPayment(ctx, gateway.RequestInput{
		Amount:      amount,
		CallbackURL: s.cfg.CallbackURL,
		Description: fmt.Sprintf("Order %s", order.ID),
	})
	if err != nil {
		util.SpanError(span, err)
		util.PaymentStartsTotal.WithLabelValues("gateway_error").Inc()
		s.logger.Warn("Payment request failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, apperr.Gateway("payment gateway unavailable", err, true, isGatewayTimeout(err))
	}
	if !res.Accepted() {
		util.PaymentStartsTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Payment request rejected",
			zap.String("order_id", orderID.String()),
			zap.Int("code", res.Code),
			zap.String("message", res.Message))
		return nil, apperr.Gateway(fmt.Sprintf("payment request rejected with code %d", res.Code), nil, false, false)
	}

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != models.OrderStatusPending {
			return apperr.Conflict("order %s is no longer pending", order.ID)
		}
		if err := tx.SetOrderAuthority(ctx, order.ID, res.Authority); err != nil {
			return fmt.Errorf("failed to store authority: %w", err)
		}
		current.PaymentAuthority = &res.Authority

		payment, err := s.orders.upsertPayment(ctx, tx, current)
		if err != nil {
			return err
		}
		if payment.Status.IsFinal() {
			return apperr.Conflict("order %s is already paid", order.ID)
		}
		payment.Authority = res.Authority
		payment.Amount = current.TotalAmount
		payment.Status = models.PaymentStatusInitiated
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		util.SpanError(span, err)
		util.PaymentStartsTotal.WithLabelValues("error").Inc()
		return nil, storeError(err, "order %s", orderID)
	}

	util.PaymentStartsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("Payment started",
		zap.String("order_id", orderID.String()),
		zap.String("authority", res.Authority),
		zap.Int64("amount", amount))

	return &StartResult{
		OrderID:     order.ID,
		Authority:   res.Authority,
		RedirectURL: s.gateway.StartPayURL(res.Authority),
		Amount:      amount,
	}, nil
}

// VerifyPayment handles the gateway callback for authority. Repeated
// deliveries for a settled order return a Conflict together with the
// settled result.
func (s *PaymentService) VerifyPayment(ctx context.Context, authority, status string) (*VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	authority = strings.TrimSpace(authority)
	if authority == "" {
		return nil, apperr.Validation("authority is required")
	}

	release, err := s.lock(ctx, authority)
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues("busy").Inc()
		return nil, err
	}
	defer release()

	order, err := s.repo.GetOrderByAuthority(ctx, authority)
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues("unknown").Inc()
		return nil, storeError(err, "payment %s", authority)
	}
	if order.Status != models.OrderStatusPending {
		return s.alreadyProcessed(order)
	}

	if !strings.EqualFold(strings.TrimSpace(status), StatusOK) {
		return s.cancelled(ctx, order)
	}

	// nothing is written before the gateway answers
	if err := s.checkVerifiable(ctx, order); err != nil {
		return s.settleError(ctx, order.ID, err)
	}

	res, err := s.gateway.Verify(ctx, gateway.VerifyInput{
		Amount:    s.GatewayAmount(order.TotalAmount),
		Authority: authority,
	})
	if err != nil {
		util.SpanError(span, err)
		util.PaymentVerificationsTotal.WithLabelValues("gateway_error").Inc()
		s.logger.Warn("Payment verification unavailable",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
		return nil, apperr.Gateway("payment verification unavailable, retry later", err, true, isGatewayTimeout(err))
	}

	if !res.Verified() {
		return s.failed(ctx, order, res)
	}

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		return s.orders.markPaid(ctx, tx, current, res.RefID, res.Raw)
	})
	if err != nil {
		return s.settleError(ctx, order.ID, err)
	}

	util.PaymentVerificationsTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
	return &VerifyResult{
		OrderID: order.ID,
		Status:  models.OrderStatusPaid,
		Outcome: OutcomeSuccess,
		RefID:   res.RefID,
		Code:    res.Code,
	}, nil
}

func (s *PaymentService) cancelled(ctx context.Context, order *models.Order) (*VerifyResult, error) {
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		return s.orders.cancel(ctx, tx, current, CancelByGateway)
	})
	if err != nil {
		return s.settleError(ctx, order.ID, err)
	}

	util.PaymentVerificationsTotal.WithLabelValues(string(OutcomeCanceled)).Inc()
	return &VerifyResult{OrderID: order.ID, Status: models.OrderStatusCancelled, Outcome: OutcomeCanceled}, nil
}

// failed records a rejected verification. The order stays PENDING so the
// buyer can retry or start a new payment.
func (s *PaymentService) failed(ctx context.Context, order *models.Order, res *gateway.VerifyResult) (*VerifyResult, error) {
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != models.OrderStatusPending {
			return apperr.Conflict("order %s was already processed", order.ID)
		}
		payment, err := s.orders.upsertPayment(ctx, tx, current)
		if err != nil {
			return err
		}
		if payment.Status.IsFinal() {
			return apperr.Conflict("order %s was already processed", order.ID)
		}
		payment.Status = models.PaymentStatusFailed
		return tx.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return s.settleError(ctx, order.ID, err)
	}

	util.PaymentVerificationsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
	s.logger.Warn("Payment verification rejected",
		zap.String("order_id", order.ID.String()),
		zap.Int("code", res.Code),
		zap.String("message", res.Message))
	return &VerifyResult{OrderID: order.ID, Status: models.OrderStatusPending, Outcome: OutcomeFailed, Code: res.Code}, nil
}

// checkVerifiable is the read-only precondition for calling the gateway
func (s *PaymentService) checkVerifiable(ctx context.Context, order *models.Order) error {
	payment, err := s.repo.GetPaymentByOrder(ctx, order.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if payment.Status.IsFinal() {
		return apperr.Conflict("order %s was already processed", order.ID)
	}
	return nil
}

// settleError turns a lost race into the already-processed answer
func (s *PaymentService) settleError(ctx context.Context, orderID uuid.UUID, err error) (*VerifyResult, error) {
	if apperr.Is(err, apperr.KindConflict) {
		if order, getErr := s.repo.GetOrder(ctx, orderID); getErr == nil && order.Status != models.OrderStatusPending {
			return s.alreadyProcessed(order)
		}
	}
	util.PaymentVerificationsTotal.WithLabelValues("error").Inc()
	return nil, storeError(err, "order %s", orderID)
}

func (s *PaymentService) alreadyProcessed(order *models.Order) (*VerifyResult, error) {
	util.PaymentVerificationsTotal.WithLabelValues("already_processed").Inc()
	result := &VerifyResult{OrderID: order.ID, Status: order.Status}
	if order.PaymentRefID != nil {
		result.RefID = *order.PaymentRefID
	}
	return result, apperr.Conflict("payment for order %s was already processed", order.ID)
}

func (s *PaymentService) lock(ctx context.Context, authority string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	release, err := s.locker.Acquire(ctx, "verify:"+authority, s.cfg.LockTTL)
	if errors.Is(err, redisclient.ErrLockHeld) {
		e := apperr.Conflict("payment %s is being verified", authority)
		e.Retryable = true
		return nil, e
	}
	if err != nil {
		// transitions are conditional updates, so verify stays safe unlocked
		s.logger.Warn("Verify lock unavailable", zap.String("authority", authority), zap.Error(err))
		return noop, nil
	}

	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release verify lock", zap.Error(err))
		}
	}, nil
}
