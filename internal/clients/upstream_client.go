package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/pricewatch/internal/domain"
	"github.com/vadiminshakov/pricewatch/pkg/retrier"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryDelay   = 2 * time.Second
	defaultMinInterval  = time.Second
	maxErrorBodyPreview = 512
	apiKeyHeader        = "x-api-key"
)

// ErrMissingAPIKey upstream API key is not configured.
var ErrMissingAPIKey = errors.New("upstream API key is not configured")

// UpstreamConfig settings for UpstreamClient.
type UpstreamConfig struct {
	URL    string
	APIKey string
	// MinInterval minimum spacing between requests.
	MinInterval time.Duration
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// UpstreamClient fetches the product listing from the upstream catalogue API.
type UpstreamClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retrier    *retrier.Retrier
	l          *zap.Logger
}

// NewUpstreamClient creates a client for the upstream catalogue API.
func NewUpstreamClient(l *zap.Logger, cfg UpstreamConfig) *UpstreamClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	return &UpstreamClient{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		retrier: retrier.New(
			retrier.WithMaxRetries(cfg.MaxRetries),
			retrier.WithInitialInterval(cfg.RetryDelay),
			retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
				l.Warn("retrying upstream fetch",
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
					zap.Error(err))
			}),
		),
		l: l,
	}
}

// FetchProducts downloads and decodes the current product listing.
func (c *UpstreamClient) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := retrier.DoWithData(c.retrier, ctx, c.fetchOnce)
	if err != nil {
		return nil, errors.Wrap(err, "fetch upstream products")
	}

	products, skipped, err := DecodeProducts(body)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.l.Warn("skipped undecodable upstream products", zap.Int("skipped", skipped))
	}

	return products, nil
}

func (c *UpstreamClient) fetchOnce(ctx context.Context) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retrier.Permanent(errors.Wrap(err, "wait for rate limiter"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, retrier.Permanent(errors.Wrap(err, "failed to create HTTP request"))
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, preview(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retrier.Permanent(statusErr)
		}
		return nil, statusErr
	}

	return body, nil
}

func preview(body []byte) string {
	if len(body) > maxErrorBodyPreview {
		return string(body[:maxErrorBodyPreview]) + "..."
	}
	return string(body)
}

type upstreamProduct struct {
	ID      flexString                 `json:"id"`
	Name    flexString                 `json:"sorte"`
	Variant flexString                 `json:"kultivar"`
	Vendors map[string]json.RawMessage `json:"vendors"`
}

type upstreamVendor struct {
	Price json.RawMessage `json:"price"`
}

// DecodeProducts decodes an upstream listing, either a bare array or an object
// with a "products" array. Entries that are not objects are skipped and counted.
func DecodeProducts(body []byte) ([]domain.Product, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, 0, errors.New("empty upstream response")
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, 0, errors.Wrap(err, "decode product list")
		}
	case '{':
		var envelope struct {
			Products []json.RawMessage `json:"products"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, 0, errors.Wrap(err, "decode product envelope")
		}
		items = envelope.Products
	default:
		return nil, 0, errors.Errorf("unexpected upstream response: %s", preview(trimmed))
	}

	products := make([]domain.Product, 0, len(items))
	skipped := 0
	for _, item := range items {
		var raw upstreamProduct
		if err := json.Unmarshal(item, &raw); err != nil {
			skipped++
			continue
		}

		p := domain.Product{
			ID:      string(raw.ID),
			Name:    string(raw.Name),
			Variant: string(raw.Variant),
			Quotes:  make(map[string]domain.VendorQuote, len(raw.Vendors)),
		}
		for vendorID, rawVendor := range raw.Vendors {
			p.Quotes[vendorID] = domain.VendorQuote{VendorID: vendorID, RawPrice: vendorPrice(rawVendor)}
		}
		products = append(products, p)
	}

	return products, skipped, nil
}

// vendorPrice extracts the raw price text. Missing or null prices yield "";
// values that are neither strings nor numbers are returned verbatim so that
// price parsing rejects them.
func vendorPrice(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var v upstreamVendor
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return rawScalar(v.Price)
}

func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// flexString accepts JSON strings and numbers; anything else decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err == nil {
		*f = flexString(data)
		return nil
	}
	*f = ""
	return nil
}
