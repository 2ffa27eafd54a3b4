package api

import (
	"context"
	"net/http"

	"checkout-service/internal/apperr"
	"checkout-service/internal/service"
	"checkout-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// adminEntities maps URL segments onto soft-deletable tables
var adminEntities = map[string]store.Entity{
	"store-items": store.EntityStoreItems,
	"stores":      store.EntityStores,
	"cart-items":  store.EntityCartItems,
	"orders":      store.EntityOrders,
	"payments":    store.EntityPayments,
}

type setStockRequest struct {
	Stock *int `json:"stock" binding:"required"`
}

type setPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (h *Handler) listStoreItems(c *gin.Context) {
	includeDeleted := c.Query("include_deleted") == "true"

	items, err := h.inventory.ListStoreItems(c.Request.Context(), includeDeleted)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) getStoreItem(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	item, err := h.inventory.GetStoreItem(c.Request.Context(), id, c.Query("include_deleted") == "true")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) createStoreItem(c *gin.Context) {
	var req service.CreateStoreItemInput
	if !h.bind(c, &req) {
		return
	}

	item, err := h.inventory.CreateStoreItem(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) setStock(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req setStockRequest
	if !h.bind(c, &req) {
		return
	}

	item, err := h.inventory.SetStock(c.Request.Context(), id, *req.Stock)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) setPrice(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req setPriceRequest
	if !h.bind(c, &req) {
		return
	}

	item, err := h.inventory.SetPrice(c.Request.Context(), id, req.Price)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) softDelete(c *gin.Context) {
	h.tombstone(c, h.inventory.SoftDelete)
}

func (h *Handler) restore(c *gin.Context) {
	h.tombstone(c, h.inventory.Restore)
}

func (h *Handler) purge(c *gin.Context) {
	h.tombstone(c, h.inventory.Purge)
}

func (h *Handler) tombstone(c *gin.Context, op func(ctx context.Context, entity store.Entity, id uuid.UUID) error) {
	entity, ok := adminEntities[c.Param("entity")]
	if !ok {
		h.respondError(c, apperr.NotFound("unknown entity %q", c.Param("entity")))
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := op(c.Request.Context(), entity, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
