package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const simplePricePath = "/simple/price"

// PriceOptions parameterise the HTTP price oracle.
type PriceOptions struct {
	BaseURL    string
	Asset      string
	VsCurrency string
	Timeout    time.Duration
	UserAgent  string
}

// Price quotes an asset from a CoinGecko-compatible simple price endpoint.
type Price struct {
	opts    PriceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPrice constructs a price oracle client.
func NewPrice(opts PriceOptions, logger zerolog.Logger) *Price {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &Price{
		opts:    opts,
		logger:  logger.With().Str("component", "price_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice returns the asset price in the configured currency.
func (p *Price) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	asset := strings.ToLower(strings.TrimSpace(p.opts.Asset))
	vs := strings.ToLower(strings.TrimSpace(p.opts.VsCurrency))
	if asset == "" || vs == "" {
		return decimal.Decimal{}, errors.New("price asset and vs currency required")
	}

	query := url.Values{}
	query.Set("ids", asset)
	query.Set("vs_currencies", vs)
	endpoint := p.baseURL + simplePricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "tokenscope/1.0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var quotes map[string]map[string]json.Number
	if err := json.Unmarshal(payload, &quotes); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}
	raw, ok := quotes[asset][vs]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no %s quote for %s", vs, asset)
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, errors.New("price returned non-positive")
	}

	p.logger.Debug().Str("asset", asset).Str("vs", vs).Str("price", price.String()).Msg("fetched price")
	return price, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price api error (%d)", status)
}

var _ PriceFetcher = (*Price)(nil)
