package cart

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"storefront-cart-service/internal/domain"
)

// AddToCart adds quantity units of product. An existing line grows by quantity.
// On success a tax lookup for the product is started in the background.
func (s *Store) AddToCart(ctx context.Context, product domain.Product, quantity int) error {
	if product.ID <= 0 {
		return ErrInvalidProduct
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	unlock := s.lockLine(product.ID)
	defer unlock()

	session, viaServer, err := s.route()
	if err != nil {
		return err
	}
	if viaServer {
		err = s.addRemote(ctx, session, product, quantity)
	} else {
		err = s.addLocal(ctx, product, quantity)
	}
	if err != nil {
		s.logger.Info("add to cart rejected",
			zap.Int64("product_id", product.ID), zap.Int("quantity", quantity), zap.Error(err))
		return err
	}

	s.scheduleTax(ctx, product.ID, quantity)
	return nil
}

func (s *Store) addRemote(ctx context.Context, session domain.Session, product domain.Product, quantity int) error {
	res, err := s.remote.AddItem(ctx, session.Token, product.ID, quantity)
	if err != nil {
		return err
	}

	hint := lineHint{name: product.Name, unitPrice: product.Price, availableStock: product.StockQuantity}
	if res.AvailableStock > 0 {
		hint.availableStock = res.AvailableStock
	}
	s.mu.Lock()
	s.hints[product.ID] = hint
	s.mu.Unlock()

	if err := s.refetch(ctx, session); err != nil {
		s.logger.Warn("item added but cart refresh failed", zap.Int64("product_id", product.ID))
		return err
	}
	return nil
}

func (s *Store) addLocal(ctx context.Context, product domain.Product, quantity int) error {
	s.mu.Lock()
	current := s.cart.Quantity(product.ID)
	requested := current + quantity
	if requested > product.StockQuantity {
		s.mu.Unlock()
		return domain.NewInventoryError(product.StockQuantity, current)
	}

	line, ok := s.cart.Line(product.ID)
	if !ok {
		line = domain.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
		}
		if a, known := s.knownTax[product.ID]; known {
			line.ApplyTax(a)
		}
	}
	line.Quantity = requested
	line.AvailableStock = product.StockQuantity
	s.cart.Upsert(line)
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// UpdateQuantity sets the quantity of a line. A quantity <= 0 removes the line,
// exactly as RemoveFromCart does.
func (s *Store) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, productID)
	}
	return s.adjust(ctx, productID, func(int) int { return quantity })
}

// IncreaseQuantity adds one unit to an existing line.
func (s *Store) IncreaseQuantity(ctx context.Context, productID int64) error {
	return s.adjust(ctx, productID, func(current int) int { return current + 1 })
}

// DecreaseQuantity removes one unit; the last unit removes the line.
func (s *Store) DecreaseQuantity(ctx context.Context, productID int64) error {
	return s.adjust(ctx, productID, func(current int) int { return current - 1 })
}

// adjust computes the new quantity from the current one while holding the line lock.
func (s *Store) adjust(ctx context.Context, productID int64, next func(current int) int) error {
	if productID <= 0 {
		return ErrInvalidProduct
	}
	unlock := s.lockLine(productID)
	defer unlock()

	session, viaServer, err := s.route()
	if err != nil {
		return err
	}
	if viaServer {
		return s.adjustRemote(ctx, session, productID, next)
	}
	return s.adjustLocal(ctx, productID, next)
}

func (s *Store) adjustRemote(ctx context.Context, session domain.Session, productID int64, next func(int) int) error {
	line, ok, err := s.remote.LookupLine(ctx, session.Token, productID)
	if err != nil {
		return err
	}
	if !ok {
		s.dropStale(ctx, productID)
		return domain.ErrLineNotFound
	}

	target := next(line.Quantity)
	if target <= 0 {
		if err := s.remote.RemoveItem(ctx, session.Token, line.CartItemID); err != nil {
			if isGone(err) {
				s.dropStale(ctx, productID)
				return nil
			}
			return err
		}
		return s.refetch(ctx, session)
	}

	res, err := s.remote.UpdateItem(ctx, session.Token, line.CartItemID, target)
	if err != nil {
		if isGone(err) {
			s.dropStale(ctx, productID)
			return domain.ErrLineNotFound
		}
		return err
	}
	if res.Removed {
		s.logger.Debug("server removed line on update", zap.Int64("product_id", productID))
	}
	return s.refetch(ctx, session)
}

func (s *Store) adjustLocal(ctx context.Context, productID int64, next func(int) int) error {
	s.mu.Lock()
	line, ok := s.cart.Line(productID)
	if !ok {
		s.mu.Unlock()
		return domain.ErrLineNotFound
	}

	target := next(line.Quantity)
	if target > line.Quantity && line.AvailableStock > 0 && target > line.AvailableStock {
		s.mu.Unlock()
		return domain.NewInventoryError(line.AvailableStock, line.Quantity)
	}
	line.Quantity = target
	s.cart.Upsert(line) // target <= 0 removes the line
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// RemoveFromCart deletes the line for productID. Removing an absent line is a no-op.
func (s *Store) RemoveFromCart(ctx context.Context, productID int64) error {
	if productID <= 0 {
		return ErrInvalidProduct
	}
	unlock := s.lockLine(productID)
	defer unlock()

	session, viaServer, err := s.route()
	if err != nil {
		return err
	}
	if !viaServer {
		s.mu.Lock()
		removed := s.cart.Remove(productID)
		s.mu.Unlock()
		if removed {
			s.persist(ctx)
		}
		return nil
	}

	line, ok, err := s.remote.LookupLine(ctx, session.Token, productID)
	if err != nil {
		return err
	}
	if !ok {
		s.dropStale(ctx, productID)
		return nil
	}
	if err := s.remote.RemoveItem(ctx, session.Token, line.CartItemID); err != nil {
		if isGone(err) {
			s.dropStale(ctx, productID)
			return nil
		}
		return err
	}
	return s.refetch(ctx, session)
}

// isGone reports a backend 404 for a cart item another request already deleted.
func isGone(err error) bool {
	var remoteErr *domain.RemoteError
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound
}

// dropStale forgets a line the server no longer has.
func (s *Store) dropStale(ctx context.Context, productID int64) {
	s.mu.Lock()
	removed := s.cart.Remove(productID)
	s.mu.Unlock()
	if removed {
		s.persist(ctx)
	}
}

// ClearCart empties the cart. It waits for in-flight line mutations.
func (s *Store) ClearCart(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	session, viaServer, err := s.route()
	if err != nil {
		return err
	}
	if viaServer {
		if err := s.remote.Clear(ctx, session.Token); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cart = domain.Cart{}
	s.mu.Unlock()
	s.persist(ctx)
	return nil
}

// scheduleTax resolves the product's tax in the background and merges it into
// the line once known. Until then the line carries a zero rate.
func (s *Store) scheduleTax(ctx context.Context, productID int64, quantity int) {
	if s.taxes == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		annotation := s.taxes.Resolve(detached, productID, quantity)
		if annotation == nil {
			return
		}

		s.gate.RLock()
		defer s.gate.RUnlock()

		s.mu.Lock()
		s.knownTax[productID] = *annotation
		i := s.cart.Find(productID)
		if i >= 0 {
			s.cart.Lines[i].ApplyTax(*annotation)
		}
		s.mu.Unlock()

		if i >= 0 {
			s.persist(detached)
		}
	}()
}
