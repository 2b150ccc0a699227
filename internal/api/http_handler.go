package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-cart-service/internal/cart"
	"storefront-cart-service/internal/domain"
)

// DeviceIDHeader identifies the storefront device a request belongs to.
const DeviceIDHeader = "X-Device-ID"

// CartService is the cart of one device. *cart.Store implements it.
type CartService interface {
	Snapshot() domain.CartView
	AddToCart(ctx context.Context, product domain.Product, quantity int) error
	UpdateQuantity(ctx context.Context, productID int64, quantity int) error
	IncreaseQuantity(ctx context.Context, productID int64) error
	DecreaseQuantity(ctx context.Context, productID int64) error
	RemoveFromCart(ctx context.Context, productID int64) error
	ClearCart(ctx context.Context) error
	Refresh(ctx context.Context) error
	SetSession(ctx context.Context, session domain.Session) error
}

// CartProvider resolves the cart for a device.
type CartProvider interface {
	CartFor(ctx context.Context, deviceID string) (CartService, error)
}

var _ CartService = (*cart.Store)(nil)

type registryProvider struct {
	registry *cart.Registry
}

// NewRegistryProvider exposes a cart.Registry as a CartProvider.
func NewRegistryProvider(registry *cart.Registry) CartProvider {
	return registryProvider{registry: registry}
}

func (p registryProvider) CartFor(ctx context.Context, deviceID string) (CartService, error) {
	s, err := p.registry.CartFor(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	carts    CartProvider
	logger   *zap.Logger
	validate *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(carts CartProvider, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		carts:    carts,
		logger:   logger.Named("http"),
		validate: validator.New(),
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// CartResponse is returned by every cart read and mutation.
type CartResponse struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Cart    *domain.CartView `json:"cart,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Success: false, Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			http.Error(w, `{"success": false, "error": "Internal server error during JSON encoding"}`, http.StatusInternalServerError)
		}
	}
}

// statusFor maps the cart error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var remoteErr *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInventory):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNetwork), errors.Is(err, cart.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, cart.ErrInvalidProduct), errors.Is(err, cart.ErrMissingDevice):
		return http.StatusBadRequest
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondWithCart renders the outcome of a cart operation together with the current cart.
func (h *HTTPHandler) respondWithCart(w http.ResponseWriter, r *http.Request, c CartService, op string, err error) {
	view := c.Snapshot()
	if err == nil {
		respondWithJSON(w, http.StatusOK, CartResponse{Success: true, Cart: &view})
		return
	}

	code := statusFor(err)
	message := domain.UserMessage(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.String("device_id", DeviceID(r.Context())), zap.Error(err))
		message = "Failed to update cart"
	} else {
		h.logger.Info(op+" rejected", zap.String("device_id", DeviceID(r.Context())), zap.Int("status", code), zap.Error(err))
	}
	respondWithJSON(w, code, CartResponse{Success: false, Error: message, Cart: &view})
}

// cartFor resolves the request's cart or writes the error response.
func (h *HTTPHandler) cartFor(w http.ResponseWriter, r *http.Request) (CartService, bool) {
	c, err := h.carts.CartFor(r.Context(), DeviceID(r.Context()))
	if err != nil {
		h.logger.Warn("cart unavailable", zap.String("device_id", DeviceID(r.Context())), zap.Error(err))
		respondWithError(w, statusFor(err), domain.UserMessage(err))
		return nil, false
	}
	return c, true
}

func productIDParam(r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productId"), 10, 64)
	if err != nil || productID <= 0 {
		return 0, false
	}
	return productID, true
}

// --- Device middleware ---

type deviceKey struct{}

// DeviceID returns the device id stored by the device middleware.
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

// WithDevice reads X-Device-ID, assigning a fresh one when absent, and echoes it back.
func (h *HTTPHandler) WithDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(DeviceIDHeader)
		if id == "" {
			id = uuid.NewString()
		} else if err := h.validate.Var(id, "max=128,printascii"); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid "+DeviceIDHeader+" header")
			return
		}
		w.Header().Set(DeviceIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey{}, id)))
	})
}

// --- Cart Handlers ---

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	h.respondWithCart(w, r, c, "GetCart", nil)
}

// AddItemInput defines the expected input for adding a product to the cart.
type AddItemInput struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	Name          string          `json:"name" validate:"max=255"`
	SKU           string          `json:"sku" validate:"max=100"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity" validate:"gte=0"`
	Quantity      int             `json:"quantity" validate:"required,gt=0"`
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var input AddItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	if input.Price.IsNegative() {
		respondWithError(w, http.StatusBadRequest, "Validation failed: price must not be negative")
		return
	}

	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	product := domain.Product{
		ID:            input.ProductID,
		Name:          input.Name,
		SKU:           input.SKU,
		Price:         input.Price,
		StockQuantity: input.StockQuantity,
	}
	h.respondWithCart(w, r, c, "AddToCart", c.AddToCart(r.Context(), product, input.Quantity))
}

// UpdateQuantityInput defines the expected input for setting a line quantity.
// Zero removes the line.
type UpdateQuantityInput struct {
	Quantity *int `json:"quantity" validate:"required,gte=0"`
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
		return
	}

	var input UpdateQuantityInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	h.respondWithCart(w, r, c, "UpdateQuantity", c.UpdateQuantity(r.Context(), productID, *input.Quantity))
}

// lineAction adapts a per-product cart operation to a handler.
func (h *HTTPHandler) lineAction(op string, do func(CartService, context.Context, int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, ok := productIDParam(r)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Invalid product ID format")
			return
		}
		c, ok := h.cartFor(w, r)
		if !ok {
			return
		}
		h.respondWithCart(w, r, c, op, do(c, r.Context(), productID))
	}
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	h.respondWithCart(w, r, c, "ClearCart", c.ClearCart(r.Context()))
}

func (h *HTTPHandler) RefreshCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	h.respondWithCart(w, r, c, "Refresh", c.Refresh(r.Context()))
}

// --- Session Handlers ---

// SessionInput defines the expected input when the storefront reports a login.
type SessionInput struct {
	Token  string `json:"token" validate:"required"`
	UserID string `json:"user_id" validate:"required,max=128"`
}

func (h *HTTPHandler) PutSession(w http.ResponseWriter, r *http.Request) {
	var input SessionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	session := domain.Session{Authenticated: true, Token: input.Token, UserID: input.UserID}
	h.respondWithCart(w, r, c, "SetSession", c.SetSession(r.Context(), session))
}

func (h *HTTPHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cartFor(w, r)
	if !ok {
		return
	}
	h.respondWithCart(w, r, c, "Logout", c.SetSession(r.Context(), domain.Anonymous))
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.WithDevice)

		r.Route("/api/v1/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)             // GET /api/v1/cart
			r.Delete("/", h.ClearCart)        // DELETE /api/v1/cart
			r.Post("/refresh", h.RefreshCart) // POST /api/v1/cart/refresh

			r.Route("/items", func(r chi.Router) {
				r.Post("/", h.AddItem) // POST /api/v1/cart/items
				r.Route("/{productId}", func(r chi.Router) {
					r.Patch("/", h.UpdateItem)
					r.Delete("/", h.lineAction("RemoveFromCart", CartService.RemoveFromCart))
					r.Post("/increase", h.lineAction("IncreaseQuantity", CartService.IncreaseQuantity))
					r.Post("/decrease", h.lineAction("DecreaseQuantity", CartService.DecreaseQuantity))
				})
			})
		})

		r.Route("/api/v1/session", func(r chi.Router) {
			r.Put("/", h.PutSession)       // PUT /api/v1/session
			r.Delete("/", h.DeleteSession) // DELETE /api/v1/session
		})
	})
}
