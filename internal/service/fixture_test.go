package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []models.OutboxJob
}

func (p *recordingPublisher) Publish(_ context.Context, job models.OutboxJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.RequestInput
	verifies []gateway.VerifyInput

	requestResult *gateway.RequestResult
	requestErr    error
	verifyResult  *gateway.VerifyResult
	verifyErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		requestResult: &gateway.RequestResult{Code: gateway.CodeSuccess, Authority: "A0000000000000000000000000000123456"},
		verifyResult: &gateway.VerifyResult{
			Code:  gateway.CodeSuccess,
			RefID: "201",
			Raw:   []byte(`{"data":{"code":100,"ref_id":201},"errors":[]}`),
		},
	}
}

func (g *fakeGateway) RequestPayment(_ context.Context, in gateway.RequestInput) (*gateway.RequestResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, in)
	return g.requestResult, g.requestErr
}

func (g *fakeGateway) Verify(_ context.Context, in gateway.VerifyInput) (*gateway.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies = append(g.verifies, in)
	return g.verifyResult, g.verifyErr
}

func (g *fakeGateway) StartPayURL(authority string) string {
	return "https://gateway.test/pg/StartPay/" + authority
}

func (g *fakeGateway) verifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.verifies)
}

type fixture struct {
	repo      *memstore.Store
	alerts    *recordingPublisher
	gw        *fakeGateway
	redis     *redisclient.Client
	watcher   *StockWatcher
	cart      *CartService
	checkout  *CheckoutService
	orders    *OrderService
	payments  *PaymentService
	inventory *InventoryService

	buyer models.User
	shop  models.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redisclient.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rc.Close() })

	f := &fixture{
		repo:   memstore.New(),
		alerts: &recordingPublisher{},
		gw:     newFakeGateway(),
		redis:  rc,
	}
	f.watcher = NewStockWatcher(f.alerts, 3)
	f.cart = NewCartService(f.repo)
	f.checkout = NewCheckoutService(f.repo, f.watcher, rc, rc, CheckoutConfig{Provider: "zarinpal"})
	f.orders = NewOrderService(f.repo, f.watcher)
	f.payments = NewPaymentService(f.repo, f.orders, f.gw, rc, PaymentConfig{
		Multiplier:  decimal.NewFromInt(10),
		CallbackURL: "http://localhost:8080/api/v1/payments/verify",
	})
	f.inventory = NewInventoryService(f.repo, f.watcher)

	now := time.Now().UTC()
	f.buyer = models.User{SoftDelete: models.NewSoftDelete(now), Email: "buyer@example.com"}
	owner := models.User{SoftDelete: models.NewSoftDelete(now), Email: "owner@example.com"}
	seller := models.Seller{SoftDelete: models.NewSoftDelete(now), UserID: owner.ID, IsActive: true}
	f.shop = models.Store{SoftDelete: models.NewSoftDelete(now), SellerID: seller.ID, Name: "shop", IsActive: true}
	f.repo.PutUser(f.buyer)
	f.repo.PutUser(owner)
	f.repo.PutSeller(seller)
	f.repo.PutStore(f.shop)
	return f
}

func (f *fixture) item(t *testing.T, sku, price string, stock int) models.StoreItem {
	t.Helper()
	item, err := f.inventory.CreateStoreItem(context.Background(), CreateStoreItemInput{
		StoreID: f.shop.ID,
		SKU:     sku,
		Price:   decimal.RequireFromString(price),
		Stock:   stock,
	})
	require.NoError(t, err)
	return *item
}

func (f *fixture) add(t *testing.T, userID uuid.UUID, item models.StoreItem, qty int) {
	t.Helper()
	_, err := f.cart.AddItem(context.Background(), userID, item.ID, qty)
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	item, err := f.repo.GetStoreItemAny(context.Background(), id)
	require.NoError(t, err)
	return item.Stock
}

type line struct {
	item models.StoreItem
	qty  int
}

// placeOrder checks out a fresh cart for the buyer
func (f *fixture) placeOrder(t *testing.T, lines ...line) *OrderView {
	t.Helper()
	for _, l := range lines {
		f.add(t, f.buyer.ID, l.item, l.qty)
	}
	view, err := f.checkout.Checkout(context.Background(), f.buyer.ID, "")
	require.NoError(t, err)
	return view
}

func (f *fixture) jobsOfType(jobType string) []models.OutboxJob {
	var out []models.OutboxJob
	for _, job := range f.repo.Jobs() {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

func (f *fixture) waitAlerts(t *testing.T) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.watcher.Wait(ctx))
	return f.alerts.count()
}

func (f *fixture) transactions(t *testing.T, orderID uuid.UUID) []models.Transaction {
	t.Helper()
	payment, err := f.repo.GetPaymentByOrder(context.Background(), orderID)
	require.NoError(t, err)
	txns, err := f.repo.ListTransactions(context.Background(), payment.ID)
	require.NoError(t, err)
	return txns
}
