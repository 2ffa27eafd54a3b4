package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const testSecret = "test-secret"

type stubGateway struct{}

func (stubGateway) RequestPayment(context.Context, gateway.RequestInput) (*gateway.RequestResult, error) {
	return &gateway.RequestResult{Code: gateway.CodeSuccess, Authority: "A00000000000000000000000000000000042"}, nil
}

func (stubGateway) Verify(context.Context, gateway.VerifyInput) (*gateway.VerifyResult, error) {
	return &gateway.VerifyResult{Code: gateway.CodeSuccess, RefID: "777", Raw: []byte(`{}`)}, nil
}

func (stubGateway) StartPayURL(authority string) string {
	return "https://gateway.test/pg/StartPay/" + authority
}

type testServer struct {
	router *gin.Engine
	repo   *memstore.Store
	buyer  uuid.UUID
	admin  uuid.UUID
	shop   models.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memstore.New()
	watcher := service.NewStockWatcher(nil, 3)
	orders := service.NewOrderService(repo, watcher)
	h := NewHandler(Services{
		Cart:     service.NewCartService(repo),
		Checkout: service.NewCheckoutService(repo, watcher, nil, nil, service.CheckoutConfig{Provider: "zarinpal"}),
		Orders:   orders,
		Payments: service.NewPaymentService(repo, orders, stubGateway{}, nil, service.PaymentConfig{
			Multiplier:  decimal.NewFromInt(10),
			CallbackURL: "http://localhost:8080/api/v1/payments/verify",
		}),
		Inventory: service.NewInventoryService(repo, watcher),
	}, NewIdentity(testSecret))

	router := gin.New()
	h.SetupRoutes(router)

	now := time.Now().UTC()
	buyer := models.User{SoftDelete: models.NewSoftDelete(now), Email: "buyer@example.com"}
	owner := models.User{SoftDelete: models.NewSoftDelete(now), Email: "owner@example.com"}
	seller := models.Seller{SoftDelete: models.NewSoftDelete(now), UserID: owner.ID, IsActive: true}
	shop := models.Store{SoftDelete: models.NewSoftDelete(now), SellerID: seller.ID, Name: "shop", IsActive: true}
	repo.PutUser(buyer)
	repo.PutUser(owner)
	repo.PutSeller(seller)
	repo.PutStore(shop)

	return &testServer{router: router, repo: repo, buyer: buyer.ID, admin: uuid.New(), shop: shop}
}

func token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) createItem(t *testing.T, sku string, stock int) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/admin/store-items", token(t, s.admin, RoleAdmin), map[string]interface{}{
		"store_id": s.shop.ID,
		"sku":      sku,
		"price":    "10.00",
		"stock":    stock,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cart", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": s.buyer.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/v1/cart", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/cart", token(t, s.buyer, ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/admin/store-items", token(t, s.buyer, ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCheckoutAndPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	buyer := token(t, s.buyer, "")
	itemID := s.createItem(t, "SKU1", 5)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", buyer, map[string]interface{}{
		"store_item_id": itemID,
		"quantity":      2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decode(t, w)["total_items"])

	w = s.do(t, http.MethodPost, "/api/v1/checkout", buyer, nil, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode(t, w)["order"].(map[string]interface{})
	orderID := order["id"].(string)
	assert.Equal(t, "PENDING", order["status"])

	w = s.do(t, http.MethodPost, "/api/v1/checkout", buyer, nil, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, orderID, decode(t, w)["order"].(map[string]interface{})["id"])

	w = s.do(t, http.MethodPost, "/api/v1/payments/"+orderID+"/start", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	started := decode(t, w)
	authority := started["authority"].(string)
	assert.Equal(t, float64(200), started["amount"])
	assert.Equal(t, "https://gateway.test/pg/StartPay/"+authority, started["redirect_url"])

	w = s.do(t, http.MethodGet, "/api/v1/payments/verify?Authority="+authority+"&Status=OK", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode(t, w)
	assert.Equal(t, "success", verified["outcome"])
	assert.Equal(t, "777", verified["ref_id"])

	w = s.do(t, http.MethodGet, "/api/v1/payments/verify?Authority="+authority+"&Status=OK", "", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	again := decode(t, w)
	assert.Equal(t, "777", again["ref_id"])
	assert.Equal(t, "PAID", again["status"])

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+orderID, buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PAID", decode(t, w)["order"].(map[string]interface{})["status"])

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+orderID, token(t, uuid.New(), ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckoutInsufficientStockNamesSKU(t *testing.T) {
	s := newTestServer(t)
	buyer := token(t, s.buyer, "")
	itemID := s.createItem(t, "SKU2", 0)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", buyer, map[string]interface{}{
		"store_item_id": itemID,
		"quantity":      1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/checkout", buyer, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "stock_insufficient", body["error"])
	assert.Equal(t, "SKU2", body["sku"])
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t)
	buyer := token(t, s.buyer, "")
	itemID := s.createItem(t, "SKU1", 5)

	s.do(t, http.MethodPost, "/api/v1/cart/items", buyer, map[string]interface{}{"store_item_id": itemID, "quantity": 1})
	w := s.do(t, http.MethodPost, "/api/v1/checkout", buyer, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode(t, w)["order"].(map[string]interface{})["id"].(string)

	w = s.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CANCELLED", decode(t, w)["order"].(map[string]interface{})["status"])

	w = s.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", buyer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders/not-a-uuid/cancel", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminSoftDeleteLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, s.admin, RoleAdmin)
	itemID := s.createItem(t, "SKU1", 5)

	w := s.do(t, http.MethodDelete, "/api/v1/admin/store-items/"+itemID, admin, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/admin/store-items/"+itemID, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/admin/store-items/"+itemID+"?include_deleted=true", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/store-items?include_deleted=true", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = s.do(t, http.MethodPost, "/api/v1/admin/store-items/"+itemID+"/restore", admin, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/admin/store-items/"+itemID, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/admin/store-items/"+itemID+"/stock", admin, map[string]int{"stock": 9})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(9), decode(t, w)["stock"])

	w = s.do(t, http.MethodDelete, "/api/v1/admin/store-items/"+itemID+"/purge", admin, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/admin/store-items/"+itemID+"?include_deleted=true", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRejectsUnknownEntityAndOrderPurge(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, s.admin, RoleAdmin)

	w := s.do(t, http.MethodDelete, "/api/v1/admin/users/"+uuid.NewString(), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/admin/orders/"+uuid.NewString()+"/purge", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/admin/store-items/"+uuid.NewString()+"/stock", admin, map[string]int{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
