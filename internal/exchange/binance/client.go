// Package binance reads account state from Binance USD-M futures. It never
// places or cancels orders.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

const (
	MainnetBaseURL = "https://fapi.binance.com"
	TestnetBaseURL = "https://testnet.binancefuture.com"

	// orderHistoryLimit is the page size requested from allOrders.
	orderHistoryLimit = 500
)

// Config holds the credentials and endpoint for one futures account.
type Config struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	BaseURL    string // overrides the mainnet/testnet default when set
	RecvWindow time.Duration
}

// Client implements domain.ExchangeStateClient against one futures account.
type Client struct {
	api      *futures.Client
	limiter  domain.RateLimiter
	limitKey string
	recv     int64
	logger   *slog.Logger
}

// New creates a Client. limiter may be nil; when set every request waits on
// the limiter key "binance:<apiKey prefix>".
func New(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	api := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.Testnet:
		api.BaseURL = TestnetBaseURL
	default:
		api.BaseURL = MainnetBaseURL
	}

	keyID := cfg.APIKey
	if len(keyID) > 8 {
		keyID = keyID[:8]
	}
	return &Client{
		api:      api,
		limiter:  limiter,
		limitKey: "binance:" + keyID,
		recv:     cfg.RecvWindow.Milliseconds(),
		logger: logger.With(
			slog.String("component", "binance"),
			slog.String("base_url", api.BaseURL),
		),
	}
}

// GetHoldings returns the absolute position size for symbol, summed over
// both sides when the account runs in hedge mode.
func (c *Client) GetHoldings(ctx context.Context, symbol string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	svc := c.api.NewGetPositionRiskService().Symbol(strings.ToUpper(symbol))
	risks, err := svc.Do(ctx, c.opts()...)
	if err != nil {
		return 0, fmt.Errorf("binance: position risk %s: %w", symbol, err)
	}
	qty, err := sumPositionAmt(symbol, risks)
	if err != nil {
		return 0, fmt.Errorf("binance: position risk %s: %w", symbol, err)
	}
	c.logger.DebugContext(ctx, "holdings fetched",
		slog.String("symbol", symbol),
		slog.Float64("quantity", qty),
	)
	return qty, nil
}

// GetOrderHistory returns orders for symbol starting at since. Binance caps
// the window at seven days after the start time, which covers the entry
// order of a position looked up from its creation time.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, since time.Time) ([]domain.OrderRecord, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewListOrdersService().
		Symbol(strings.ToUpper(symbol)).
		Limit(orderHistoryLimit)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	orders, err := svc.Do(ctx, c.opts()...)
	if err != nil {
		return nil, fmt.Errorf("binance: list orders %s: %w", symbol, err)
	}

	out := make([]domain.OrderRecord, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, toOrderRecord(*o))
	}
	return out, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, c.limitKey); err != nil {
		return fmt.Errorf("binance: rate limit: %w", err)
	}
	return nil
}

func (c *Client) opts() []futures.RequestOption {
	if c.recv <= 0 {
		return nil
	}
	return []futures.RequestOption{futures.WithRecvWindow(c.recv)}
}

// sumPositionAmt adds the magnitude of every position entry for symbol.
func sumPositionAmt(symbol string, risks []*futures.PositionRisk) (float64, error) {
	total := decimal.Zero
	for _, r := range risks {
		if r == nil || !strings.EqualFold(r.Symbol, symbol) {
			continue
		}
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil {
			return 0, fmt.Errorf("parse positionAmt %q: %w", r.PositionAmt, err)
		}
		total = total.Add(amt.Abs())
	}
	v, _ := total.Float64()
	return v, nil
}

func toOrderRecord(o futures.Order) domain.OrderRecord {
	price, _ := strconv.ParseFloat(o.AvgPrice, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(o.Price, 64)
	}
	executed, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	return domain.OrderRecord{
		OrderID:          strconv.FormatInt(o.OrderID, 10),
		Symbol:           o.Symbol,
		Side:             toSide(o.Side),
		Status:           toStatus(o.Status),
		Price:            price,
		ExecutedQuantity: executed,
		CreatedAt:        time.UnixMilli(o.Time).UTC(),
	}
}

func toSide(s futures.SideType) domain.OrderSide {
	if s == futures.SideTypeSell {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func toStatus(s futures.OrderStatusType) domain.OrderStatus {
	switch s {
	case futures.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case futures.OrderStatusTypeCanceled:
		return domain.OrderStatusCancelled
	case futures.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	case futures.OrderStatusTypeExpired:
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatusNew
	}
}

var _ domain.ExchangeStateClient = (*Client)(nil)
