// Package cart keeps one shopping cart consistent across the server cart, the
// local offline copy and the view handed to the storefront.
//
// A Store is the single writer of its cart. When the session is authenticated
// every mutation is confirmed by the server and the in-memory cart is replaced
// by a fresh server read; guests and degraded sessions mutate locally with the
// same inventory rule the server applies. Every change is persisted locally.
package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-cart-service/internal/domain"
)

// Store owns the cart of one logical session.
type Store struct {
	remote Remote
	local  Local
	taxes  TaxResolver
	logger *zap.Logger

	// gate is shared by line mutations and taken exclusively by
	// hydration and ClearCart, which touch every line.
	gate  sync.RWMutex
	lines *keyedMutex

	// saveMu orders local writes so the last write is the newest cart.
	saveMu sync.Mutex

	mu       sync.RWMutex
	state    domain.CartState
	cart     domain.Cart
	session  domain.Session
	loadErr  error
	knownTax map[int64]domain.TaxAnnotation
	hints    map[int64]lineHint

	// fetchSeq numbers server reads in the order they are issued. applied is
	// the newest one merged into cart and is guarded by mu.
	fetchSeq atomic.Uint64
	applied  uint64

	pending sync.WaitGroup
}

// lineHint is what the client learned about a product when adding it, used
// when a server read leaves those fields blank.
type lineHint struct {
	name           string
	unitPrice      decimal.Decimal
	availableStock int
}

// NewStore creates an uninitialized Store.
func NewStore(remote Remote, local Local, taxes TaxResolver, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		remote:   remote,
		local:    local,
		taxes:    taxes,
		logger:   logger.Named("cart"),
		lines:    newKeyedMutex(),
		state:    domain.StateUninitialized,
		knownTax: make(map[int64]domain.TaxAnnotation),
		hints:    make(map[int64]lineHint),
	}
}

// Init hydrates the cart for session. Only an AuthError is returned; other
// server failures leave the store Degraded on the local copy.
func (s *Store) Init(ctx context.Context, session domain.Session) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.hydrate(ctx, session)
}

// EnsureInit hydrates as a guest if nothing has initialized the store yet.
func (s *Store) EnsureInit(ctx context.Context) error {
	if s.State() != domain.StateUninitialized {
		return nil
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.State() != domain.StateUninitialized {
		return nil
	}
	return s.hydrate(ctx, domain.Anonymous)
}

// SetSession applies an auth change. A new identity discards the cart and
// rehydrates from the source that matches it; the old cart is never merged in.
// Leaving an authenticated identity also wipes the local copy.
func (s *Store) SetSession(ctx context.Context, session domain.Session) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.Lock()
	prev := s.session
	sameIdentity := s.state != domain.StateUninitialized &&
		prev.Authenticated == session.Authenticated &&
		prev.Identity() == session.Identity()
	if sameIdentity {
		s.session.Token = session.Token
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if prev.Authenticated {
		s.local.Reset(ctx)
	}
	s.logger.Info("cart identity changed, reloading",
		zap.Bool("authenticated", session.Authenticated), zap.String("user_id", session.UserID))
	return s.hydrate(ctx, session)
}

// Refresh reloads the cart from the authoritative source for the current session.
// It is the retry path out of Degraded; the store never retries on its own.
func (s *Store) Refresh(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()
	return s.hydrate(ctx, session)
}

// hydrate must be called with the gate held exclusively.
func (s *Store) hydrate(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	s.state = domain.StateLoading
	s.session = session
	s.cart = domain.Cart{}
	s.loadErr = nil
	s.mu.Unlock()

	if !session.Authenticated {
		s.finish(s.local.Load(ctx), domain.StateReady, nil)
		return nil
	}

	serverCart, seq, err := s.fetch(ctx, session)
	if err != nil {
		s.logger.Warn("server cart unavailable, serving local copy",
			zap.String("user_id", session.UserID), zap.Error(err))
		s.finish(s.local.Load(ctx), domain.StateDegraded, err)
		if errors.Is(err, domain.ErrAuth) {
			return err
		}
		return nil
	}

	s.mu.Lock()
	s.applied = seq
	s.mu.Unlock()
	s.finish(serverCart, domain.StateReady, nil)
	s.persist(ctx)
	return nil
}

func (s *Store) finish(cart domain.Cart, state domain.CartState, loadErr error) {
	s.mu.Lock()
	s.cart = cart
	s.state = state
	s.loadErr = loadErr
	s.applyKnownTaxLocked(&s.cart)
	s.mu.Unlock()
	s.logger.Debug("cart hydrated", zap.String("state", string(state)), zap.Int("lines", len(cart.Lines)))
}

// State returns the lifecycle state.
func (s *Store) State() domain.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Session returns the session the cart is currently loaded for.
func (s *Store) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Snapshot returns a copy of the cart with freshly computed totals.
func (s *Store) Snapshot() domain.CartView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cart := s.cart.Clone()
	view := domain.CartView{
		Lines:         cart.Lines,
		Totals:        cart.Totals(),
		State:         s.state,
		Degraded:      s.state == domain.StateDegraded,
		Authenticated: s.session.Authenticated,
		UserID:        s.session.UserID,
	}
	if s.loadErr != nil {
		view.LoadError = domain.UserMessage(s.loadErr)
	}
	return view
}

// Lines returns a copy of the current lines.
func (s *Store) Lines() []domain.CartLine {
	return s.Snapshot().Lines
}

// Totals recomputes the cart totals.
func (s *Store) Totals() domain.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Totals()
}

// Wait blocks until background tax lookups have finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

// lockLine serializes mutations of one product and blocks hydration meanwhile.
func (s *Store) lockLine(productID int64) func() {
	s.gate.RLock()
	unlock := s.lines.Lock(productID)
	return func() {
		unlock()
		s.gate.RUnlock()
	}
}

// route reports whether mutations go to the server, and with which session.
func (s *Store) route() (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case domain.StateReady:
		return s.session, s.session.Authenticated, nil
	case domain.StateDegraded:
		return s.session, false, nil
	default:
		return s.session, false, ErrNotInitialized
	}
}

// persist saves the current cart locally, best effort.
func (s *Store) persist(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.RLock()
	if s.state != domain.StateReady && s.state != domain.StateDegraded {
		s.mu.RUnlock()
		return
	}
	snapshot := s.cart.Clone()
	s.mu.RUnlock()
	s.local.Save(ctx, snapshot)
}

// fetch reads the server cart and reports the sequence number it was issued under.
func (s *Store) fetch(ctx context.Context, session domain.Session) (domain.Cart, uint64, error) {
	seq := s.fetchSeq.Add(1)
	cart, err := s.remote.FetchCart(ctx, session.Token)
	return cart, seq, err
}

// applyServerCart replaces the in-memory cart with a server read, keeping what
// only the client knows: resolved taxes and, when the server omits them, names,
// prices and stock captured at add time. A read issued before the one already
// applied is discarded, since mutations on other lines may have landed since.
func (s *Store) applyServerCart(ctx context.Context, seq uint64, serverCart domain.Cart) {
	s.mu.Lock()
	if seq <= s.applied {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded server cart", zap.Uint64("seq", seq))
		return
	}
	s.applied = seq
	for i := range serverCart.Lines {
		line := &serverCart.Lines[i]
		prev, hadLine := s.cart.Line(line.ProductID)
		hint, hinted := s.hints[line.ProductID]
		if line.Name == "" {
			if hinted && hint.name != "" {
				line.Name = hint.name
			} else if hadLine {
				line.Name = prev.Name
			}
		}
		if line.UnitPrice.IsZero() {
			if hinted && !hint.unitPrice.IsZero() {
				line.UnitPrice = hint.unitPrice
			} else if hadLine {
				line.UnitPrice = prev.UnitPrice
			}
		}
		if line.AvailableStock == 0 {
			if hinted && hint.availableStock > 0 {
				line.AvailableStock = hint.availableStock
			} else if hadLine {
				line.AvailableStock = prev.AvailableStock
			}
		}
		if hadLine {
			line.TaxRate, line.HSNCode = prev.TaxRate, prev.HSNCode
		}
	}
	s.applyKnownTaxLocked(&serverCart)
	s.cart = serverCart
	s.mu.Unlock()
	s.persist(ctx)
}

func (s *Store) applyKnownTaxLocked(cart *domain.Cart) {
	for i := range cart.Lines {
		if a, ok := s.knownTax[cart.Lines[i].ProductID]; ok {
			cart.Lines[i].ApplyTax(a)
		}
	}
}

// refetch re-reads the server cart after a confirmed mutation.
func (s *Store) refetch(ctx context.Context, session domain.Session) error {
	serverCart, seq, err := s.fetch(ctx, session)
	if err != nil {
		s.logger.Warn("mutation confirmed but cart refresh failed", zap.Error(err))
		return err
	}
	s.applyServerCart(ctx, seq, serverCart)
	return nil
}
