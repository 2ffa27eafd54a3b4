package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService manages the per-user cart. Stock is not checked here;
// checkout does that under row locks.
type CartService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository) *CartService {
	return &CartService{repo: repo, logger: util.GetLogger()}
}

// CartLineView is a cart line priced at the item's current price
type CartLineView struct {
	models.CartLine
	Subtotal decimal.Decimal `json:"subtotal"`
}

// CartView is the cart with totals computed on read
type CartView struct {
	CartID     *uuid.UUID      `json:"cart_id,omitempty"`
	Lines      []CartLineView  `json:"lines"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// GetCart returns the user's cart. A user without a cart gets an empty one.
func (s *CartService) GetCart(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	cart, err := s.repo.GetCartByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &CartView{Lines: []CartLineView{}, TotalPrice: decimal.Zero}, nil
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to get cart: %w", err))
	}

	lines, err := s.repo.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to list cart lines: %w", err))
	}
	return buildCartView(cart.ID, lines), nil
}

func buildCartView(cartID uuid.UUID, lines []models.CartLine) *CartView {
	view := &CartView{CartID: &cartID, Lines: make([]CartLineView, 0, len(lines)), TotalPrice: decimal.Zero}
	for _, line := range lines {
		subtotal := line.Subtotal()
		view.Lines = append(view.Lines, CartLineView{CartLine: line, Subtotal: subtotal})
		view.TotalItems += line.Quantity
		view.TotalPrice = view.TotalPrice.Add(subtotal)
	}
	return view
}

// AddItem adds qty units of a store item, merging with an existing line
func (s *CartService) AddItem(ctx context.Context, userID, storeItemID uuid.UUID, qty int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if qty < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetStoreItem(ctx, storeItemID)
		if err != nil {
			return storeError(err, "store item %s", storeItemID)
		}
		if !item.IsActive {
			return apperr.NotFound("store item %s is not available", storeItemID)
		}

		cart, err := tx.GetOrCreateCart(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get cart: %w", err)
		}
		line, err := tx.UpsertCartItem(ctx, cart.ID, item.ID, qty)
		if err != nil {
			return err
		}

		s.logger.Debug("Cart item added",
			zap.String("user_id", userID.String()),
			zap.String("sku", item.SKU),
			zap.Int("quantity", line.Quantity))
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError(err, "cart item")
	}
	return s.GetCart(ctx, userID)
}

// UpdateQuantity overwrites a line's quantity; zero or less removes the line
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID uuid.UUID, qty int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCartByUser(ctx, userID)
		if err != nil {
			return storeError(err, "cart item %s", itemID)
		}
		if qty <= 0 {
			return tx.DeleteCartItem(ctx, cart.ID, itemID)
		}
		return tx.SetCartItemQuantity(ctx, cart.ID, itemID, qty)
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError(err, "cart item %s", itemID)
	}
	return s.GetCart(ctx, userID)
}

// RemoveItem deletes one line from the cart
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*CartView, error) {
	return s.UpdateQuantity(ctx, userID, itemID, 0)
}
