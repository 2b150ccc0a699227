package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"storefront-cart-service/internal/backend"
	"storefront-cart-service/internal/domain"
)

// fakeRemote is an in-memory cart backend keyed by bearer token.
type fakeRemote struct {
	mu          sync.Mutex
	carts       map[string][]domain.CartLine
	stock       map[int64]int
	prices      map[int64]decimal.Decimal
	nextID      int64
	fetchErr    error
	lookupDelay time.Duration
	afterLookup func()
	held        *heldFetch
	calls       map[string]int
}

// heldFetch parks one FetchCart after it has read the server cart.
type heldFetch struct {
	reached chan struct{}
	release chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		carts:  make(map[string][]domain.CartLine),
		stock:  make(map[int64]int),
		prices: make(map[int64]decimal.Decimal),
		nextID: 100,
		calls:  make(map[string]int),
	}
}

func (f *fakeRemote) addUser(token string, lines ...domain.CartLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range lines {
		f.nextID++
		lines[i].CartItemID = f.nextID
	}
	f.carts[token] = lines
}

func (f *fakeRemote) setProduct(id int64, price string, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[id] = decimal.RequireFromString(price)
	f.stock[id] = stock
}

func (f *fakeRemote) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// holdNextFetch makes the next FetchCart read the cart, signal reached, and
// wait for release before returning what it read.
func (f *fakeRemote) holdNextFetch() (reached <-chan struct{}, release func()) {
	h := &heldFetch{reached: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.held = h
	f.mu.Unlock()
	return h.reached, func() { close(h.release) }
}

// deleteLine removes a product from the server cart as another client would.
func (f *fakeRemote) deleteLine(token string, productID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := domain.Cart{Lines: f.carts[token]}
	cart.Remove(productID)
	f.carts[token] = cart.Lines
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) serverQuantity(token string, productID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.carts[token] {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

func (f *fakeRemote) linesFor(token string) ([]domain.CartLine, error) {
	lines, ok := f.carts[token]
	if !ok {
		return nil, fmt.Errorf("fake: %w", domain.ErrAuth)
	}
	return lines, nil
}

func (f *fakeRemote) FetchCart(ctx context.Context, token string) (domain.Cart, error) {
	f.mu.Lock()
	f.calls["FetchCart"]++
	if f.fetchErr != nil {
		f.mu.Unlock()
		return domain.Cart{}, f.fetchErr
	}
	lines, err := f.linesFor(token)
	if err != nil {
		f.mu.Unlock()
		return domain.Cart{}, err
	}
	cart := domain.Cart{Lines: lines}.Clone()
	held := f.held
	f.held = nil
	f.mu.Unlock()

	if held != nil {
		close(held.reached)
		<-held.release
	}
	return cart, nil
}

func (f *fakeRemote) AddItem(ctx context.Context, token string, productID int64, quantity int) (backend.AddResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AddItem"]++
	lines, err := f.linesFor(token)
	if err != nil {
		return backend.AddResult{}, err
	}
	cart := domain.Cart{Lines: lines}
	current := cart.Quantity(productID)
	stock := f.stock[productID]
	if current+quantity > stock {
		return backend.AddResult{}, domain.NewInventoryError(stock, current)
	}
	line, ok := cart.Line(productID)
	if !ok {
		f.nextID++
		line = domain.CartLine{ProductID: productID, CartItemID: f.nextID, UnitPrice: f.prices[productID]}
	}
	line.Quantity = current + quantity
	cart.Upsert(line)
	f.carts[token] = cart.Lines
	return backend.AddResult{AvailableStock: stock}, nil
}

func (f *fakeRemote) UpdateItem(ctx context.Context, token string, cartItemID int64, quantity int) (backend.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateItem"]++
	lines, err := f.linesFor(token)
	if err != nil {
		return backend.UpdateResult{}, err
	}
	for i, l := range lines {
		if l.CartItemID != cartItemID {
			continue
		}
		if quantity <= 0 {
			f.carts[token] = append(lines[:i], lines[i+1:]...)
			return backend.UpdateResult{Removed: true}, nil
		}
		if stock := f.stock[l.ProductID]; quantity > stock {
			return backend.UpdateResult{}, domain.NewInventoryError(stock, l.Quantity)
		}
		lines[i].Quantity = quantity
		return backend.UpdateResult{AvailableStock: f.stock[l.ProductID]}, nil
	}
	return backend.UpdateResult{}, &domain.RemoteError{StatusCode: 404, Message: "cart item not found"}
}

func (f *fakeRemote) RemoveItem(ctx context.Context, token string, cartItemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["RemoveItem"]++
	lines, err := f.linesFor(token)
	if err != nil {
		return err
	}
	for i, l := range lines {
		if l.CartItemID == cartItemID {
			f.carts[token] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return &domain.RemoteError{StatusCode: 404, Message: "cart item not found"}
}

func (f *fakeRemote) Clear(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Clear"]++
	if _, err := f.linesFor(token); err != nil {
		return err
	}
	f.carts[token] = []domain.CartLine{}
	return nil
}

// LookupLine reads, then pauses, which is where unserialized read-modify-write loses updates.
func (f *fakeRemote) LookupLine(ctx context.Context, token string, productID int64) (domain.CartLine, bool, error) {
	cart, err := f.FetchCart(ctx, token)
	if err != nil {
		return domain.CartLine{}, false, err
	}
	f.mu.Lock()
	delay, after := f.lookupDelay, f.afterLookup
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if after != nil {
		after()
	}
	line, ok := cart.Line(productID)
	return line, ok, nil
}

// memLocal is an in-memory Local.
type memLocal struct {
	mu     sync.Mutex
	cart   domain.Cart
	saves  int
	resets int
}

func (m *memLocal) Load(ctx context.Context) domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone()
}

func (m *memLocal) Save(ctx context.Context, cart domain.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.cart = cart.Clone()
}

func (m *memLocal) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.cart = domain.Cart{}
}

func (m *memLocal) snapshot() (domain.Cart, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone(), m.saves
}

// fakeTaxes resolves from a fixed table; unknown products fail.
type fakeTaxes struct {
	mu    sync.Mutex
	rates map[int64]domain.TaxAnnotation
}

func newFakeTaxes() *fakeTaxes {
	return &fakeTaxes{rates: make(map[int64]domain.TaxAnnotation)}
}

func (f *fakeTaxes) set(productID int64, rate string, hsn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[productID] = domain.TaxAnnotation{TaxRate: decimal.RequireFromString(rate), HSNCode: &hsn}
}

func (f *fakeTaxes) Resolve(ctx context.Context, productID int64, quantity int) *domain.TaxAnnotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rates[productID]
	if !ok {
		return nil
	}
	return &a
}

// MockTaxResolver is a mock implementation of TaxResolver
type MockTaxResolver struct {
	mock.Mock
}

func (m *MockTaxResolver) Resolve(ctx context.Context, productID int64, quantity int) *domain.TaxAnnotation {
	args := m.Called(ctx, productID, quantity)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*domain.TaxAnnotation)
}

func product(id int64, price string, stock int) domain.Product {
	return domain.Product{ID: id, Name: fmt.Sprintf("Product %d", id), Price: decimal.RequireFromString(price), StockQuantity: stock}
}

func authed(token, user string) domain.Session {
	return domain.Session{Authenticated: true, Token: token, UserID: user}
}
