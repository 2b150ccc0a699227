package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront-cart-service/internal/domain"
)

const maxResponseBytes = 1 << 20

// CartClient is a thin typed wrapper over the cart REST endpoints.
type CartClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCartClient creates a client for the backend rooted at baseURL.
func NewCartClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CartClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("backend"),
	}
}

// FetchCart returns the server cart for the token's owner.
func (c *CartClient) FetchCart(ctx context.Context, token string) (domain.Cart, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "FetchCart", http.MethodGet, "/cart", token, nil, false, &raw); err != nil {
		return domain.Cart{}, err
	}

	var items []cartItemDTO
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || string(trimmed) == "null":
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return domain.Cart{}, malformed("FetchCart", err)
		}
	default:
		var dto cartDTO
		if err := json.Unmarshal(trimmed, &dto); err != nil {
			return domain.Cart{}, malformed("FetchCart", err)
		}
		items = dto.Items
	}

	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		line, ok := item.toLine()
		if !ok {
			c.logger.Warn("skipping unusable cart item from backend", zap.Int64("cart_item_id", item.ID))
			continue
		}
		lines = append(lines, line)
	}
	return domain.Normalize(lines), nil
}

// AddItem asks the backend to add quantity units of a product. The backend validates inventory.
func (c *CartClient) AddItem(ctx context.Context, token string, productID int64, quantity int) (AddResult, error) {
	var res AddResult
	body := addItemRequest{ProductID: productID, Quantity: quantity}
	err := c.do(ctx, "AddItem", http.MethodPost, "/cart/items", token, body, true, &res)
	return res, err
}

// UpdateItem sets the quantity of a cart item. A quantity <= 0 removes it and reports Removed.
func (c *CartClient) UpdateItem(ctx context.Context, token string, cartItemID int64, quantity int) (UpdateResult, error) {
	var res UpdateResult
	path := fmt.Sprintf("/cart/items/%d", cartItemID)
	err := c.do(ctx, "UpdateItem", http.MethodPatch, path, token, updateItemRequest{Quantity: quantity}, true, &res)
	return res, err
}

// RemoveItem deletes a single cart item.
func (c *CartClient) RemoveItem(ctx context.Context, token string, cartItemID int64) error {
	path := fmt.Sprintf("/cart/items/%d", cartItemID)
	return c.do(ctx, "RemoveItem", http.MethodDelete, path, token, nil, false, nil)
}

// Clear deletes the whole server cart.
func (c *CartClient) Clear(ctx context.Context, token string) error {
	return c.do(ctx, "Clear", http.MethodDelete, "/cart", token, nil, false, nil)
}

// LookupLine fetches the server cart and returns the line for productID.
// Mutations need its CartItemID; the wire protocol offers no other way to get it.
func (c *CartClient) LookupLine(ctx context.Context, token string, productID int64) (domain.CartLine, bool, error) {
	cart, err := c.FetchCart(ctx, token)
	if err != nil {
		return domain.CartLine{}, false, err
	}
	line, ok := cart.Line(productID)
	return line, ok, nil
}

func (c *CartClient) do(ctx context.Context, op, method, path, token string, body any, stockAware bool, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: %s failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: %s failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend call failed", zap.String("op", op), zap.Error(err))
		return &domain.NetworkError{Op: "backend: " + op, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &domain.NetworkError{Op: "backend: " + op, Err: err}
	}
	c.logger.Debug("backend call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return fmt.Errorf("backend: %s: %w", op, domain.ErrAuth)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if res.StatusCode >= http.StatusInternalServerError {
		return &domain.NetworkError{Op: "backend: " + op, Err: fmt.Errorf("HTTP %d %s", res.StatusCode, env.Message)}
	}
	if decodeErr != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return &domain.RemoteError{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		}
		return malformed(op, decodeErr)
	}

	if !env.ok() {
		var stock stockErrorDTO
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &stock)
		}
		if stockAware && isStockRejection(res.StatusCode, stock) {
			invErr := &domain.InventoryError{Message: env.Message}
			if invErr.Message == "" {
				invErr.Message = "Requested quantity is not available."
			}
			if stock.AvailableStock != nil {
				invErr.AvailableStock = *stock.AvailableStock
			}
			return invErr
		}
		return &domain.RemoteError{StatusCode: res.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if passthrough, ok := out.(*json.RawMessage); ok {
			*passthrough = env.Data
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return malformed(op, err)
		}
	}
	return nil
}

// isStockRejection reports whether a failed add or update was refused for
// inventory. A 2xx carrying an error body only counts when it names the stock.
func isStockRejection(code int, stock stockErrorDTO) bool {
	switch code {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return code < http.StatusMultipleChoices && stock.AvailableStock != nil
}

func malformed(op string, err error) error {
	return fmt.Errorf("backend: %s returned a malformed body: %w", op, &domain.RemoteError{Message: err.Error()})
}
