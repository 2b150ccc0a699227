// Package pricing annotates cart lines with tax information from the tax service.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storefront-cart-service/internal/domain"
)

var maxRate = decimal.NewFromInt(100)

type taxEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    *struct {
		TaxRate *decimal.Decimal `json:"taxRate"`
		HSNCode *string          `json:"hsnCode"`
	} `json:"data"`
}

// TaxResolver looks up the tax rate and HSN code for a product.
// Failures never reach the caller: Resolve returns nil and the line keeps a zero rate.
type TaxResolver struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	group      singleflight.Group
	logger     *zap.Logger
}

// NewTaxResolver creates a resolver for the tax service rooted at baseURL.
func NewTaxResolver(baseURL string, timeout time.Duration, logger *zap.Logger) *TaxResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaxResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger.Named("pricing"),
	}
}

// Resolve returns the tax annotation for (productID, quantity), or nil on any failure.
// Concurrent calls for the same pair share one request.
func (r *TaxResolver) Resolve(ctx context.Context, productID int64, quantity int) *domain.TaxAnnotation {
	key := strconv.FormatInt(productID, 10) + ":" + strconv.Itoa(quantity)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.lookup(ctx, productID, quantity)
	})
	if err != nil {
		r.logger.Warn("tax lookup failed, using zero rate",
			zap.Int64("product_id", productID), zap.Int("quantity", quantity), zap.Error(err))
		return nil
	}
	annotation := v.(domain.TaxAnnotation)
	if annotation.HSNCode != nil {
		code := *annotation.HSNCode
		annotation.HSNCode = &code
	}
	return &annotation
}

func (r *TaxResolver) lookup(ctx context.Context, productID int64, quantity int) (domain.TaxAnnotation, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("productId", strconv.FormatInt(productID, 10))
	q.Set("quantity", strconv.Itoa(quantity))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/tax/calculate?"+q.Encode(), nil)
	if err != nil {
		return domain.TaxAnnotation{}, fmt.Errorf("pricing: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := r.httpClient.Do(req)
	if err != nil {
		return domain.TaxAnnotation{}, fmt.Errorf("pricing: tax service unreachable: %w", err)
	}
	defer res.Body.Close()

	var env taxEnvelope
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&env); err != nil {
		return domain.TaxAnnotation{}, fmt.Errorf("pricing: malformed tax response (HTTP %d): %w", res.StatusCode, err)
	}
	if env.Status != "success" || env.Data == nil || env.Data.TaxRate == nil {
		return domain.TaxAnnotation{}, fmt.Errorf("pricing: tax service rejected lookup (HTTP %d): %s", res.StatusCode, env.Message)
	}
	rate := *env.Data.TaxRate
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return domain.TaxAnnotation{}, fmt.Errorf("pricing: tax rate %s out of range", rate)
	}
	return domain.TaxAnnotation{TaxRate: rate, HSNCode: env.Data.HSNCode}, nil
}
