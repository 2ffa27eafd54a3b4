// Package memstore is an in-memory store.Repository. Transactions are
// serialized and work on a private copy that replaces the committed state
// on success, so readers never observe a partial unit of work.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
)

type state struct {
	users      map[uuid.UUID]models.User
	sellers    map[uuid.UUID]models.Seller
	stores     map[uuid.UUID]models.Store
	items      map[uuid.UUID]models.StoreItem
	carts      map[uuid.UUID]models.Cart
	cartItems  map[uuid.UUID]models.CartItem
	orders     map[uuid.UUID]models.Order
	orderItems map[uuid.UUID]models.OrderItem
	payments   map[uuid.UUID]models.Payment
	txns       map[uuid.UUID]models.Transaction
	jobs       []models.OutboxJob
}

func newState() *state {
	return &state{
		users:      make(map[uuid.UUID]models.User),
		sellers:    make(map[uuid.UUID]models.Seller),
		stores:     make(map[uuid.UUID]models.Store),
		items:      make(map[uuid.UUID]models.StoreItem),
		carts:      make(map[uuid.UUID]models.Cart),
		cartItems:  make(map[uuid.UUID]models.CartItem),
		orders:     make(map[uuid.UUID]models.Order),
		orderItems: make(map[uuid.UUID]models.OrderItem),
		payments:   make(map[uuid.UUID]models.Payment),
		txns:       make(map[uuid.UUID]models.Transaction),
	}
}

// clone copies every table. Records are values and their pointer fields are
// only ever replaced, never written through, so a shallow copy suffices.
func (s *state) clone() *state {
	return &state{
		users:      maps.Clone(s.users),
		sellers:    maps.Clone(s.sellers),
		stores:     maps.Clone(s.stores),
		items:      maps.Clone(s.items),
		carts:      maps.Clone(s.carts),
		cartItems:  maps.Clone(s.cartItems),
		orders:     maps.Clone(s.orders),
		orderItems: maps.Clone(s.orderItems),
		payments:   maps.Clone(s.payments),
		txns:       maps.Clone(s.txns),
		jobs:       append([]models.OutboxJob(nil), s.jobs...),
	}
}

// Store is the in-memory Repository
type Store struct {
	store.Hooks

	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
	now  func() time.Time
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// InTx runs fn against a private copy and publishes it on success
func (m *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.txMu.Lock()
	m.mu.RLock()
	working := m.st.clone()
	m.mu.RUnlock()

	tx := &memTx{view: view{st: working}, now: m.now}
	if err := fn(tx); err != nil {
		m.txMu.Unlock()
		return err
	}

	m.mu.Lock()
	m.st = working
	m.mu.Unlock()
	m.txMu.Unlock()

	m.Fire(ctx, &tx.Pending)
	return nil
}

// Close is a no-op
func (m *Store) Close() error {
	return nil
}

func (m *Store) read() view {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{st: m.st}
}

// PutUser seeds a replicated user row
func (m *Store) PutUser(u models.User) {
	m.mutate(func(s *state) { s.users[u.ID] = u })
}

// PutSeller seeds a replicated seller row
func (m *Store) PutSeller(sl models.Seller) {
	m.mutate(func(s *state) { s.sellers[sl.ID] = sl })
}

// PutStore seeds a store row
func (m *Store) PutStore(st models.Store) {
	m.mutate(func(s *state) { s.stores[st.ID] = st })
}

func (m *Store) mutate(fn func(s *state)) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.st.clone()
	fn(next)
	m.st = next
}

// Jobs returns a copy of the outbox, dispatched or not
func (m *Store) Jobs() []models.OutboxJob {
	v := m.read()
	return append([]models.OutboxJob(nil), v.st.jobs...)
}
