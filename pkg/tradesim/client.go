// Package tradesim provides a Go SDK for the tradesim-server API.
package tradesim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LegSpec describes one order leg.
type LegSpec struct {
	Type         string  `json:"type"`
	LimitPrice   float64 `json:"limit_price,omitempty"`
	StopPrice    float64 `json:"stop_price,omitempty"`
	TrailAmount  float64 `json:"trail_amount,omitempty"`
	TrailPercent float64 `json:"trail_percent,omitempty"`
	TIF          string  `json:"tif,omitempty"`
	ExpiresAt    string  `json:"expires_at,omitempty"`
}

// OrderRequest carries the signal context and the leg to build.
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Qty         float64 `json:"qty"`
	PUp         float64 `json:"p_up"`
	Regime      string  `json:"regime"`
	SpreadBps   float64 `json:"spread_bps"`
	NewsHeat    float64 `json:"news_heat"`
	MarketValue float64 `json:"market_value,omitempty"`
	Exchange    string  `json:"exchange,omitempty"`
	Leg         LegSpec `json:"leg"`
}

// BracketRequest extends OrderRequest with protective legs.
type BracketRequest struct {
	OrderRequest
	Stop LegSpec  `json:"stop"`
	Take *LegSpec `json:"take,omitempty"`
}

// Order is the server's view of one order leg.
type Order struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Qty       float64   `json:"qty"`
	FilledQty float64   `json:"filled_qty"`
	AvgPrice  float64   `json:"avg_fill_price"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Fill is one simulated execution.
type Fill struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Qty         float64   `json:"qty"`
	AvgPrice    float64   `json:"avg_price"`
	Fees        float64   `json:"fees"`
	SlippageBps float64   `json:"slippage_bps"`
	LatencyMs   float64   `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// Position is one net position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgPrice      float64 `json:"avg_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Fees          float64 `json:"fees"`
}

// Performance aggregates P&L across the ledger.
type Performance struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalFees     float64 `json:"total_fees"`
	NetPnL        float64 `json:"net_pnl"`
	OpenPositions int     `json:"open_positions"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("api error %d: %s (%s)", e.StatusCode, e.Message, strings.Join(e.Violations, ", "))
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the tradesim-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new tradesim API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SubmitOrder submits a single order and returns the resulting leg and fill.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (Order, Fill, error) {
	var resp struct {
		Order Order `json:"order"`
		Fill  Fill  `json:"fill"`
	}
	err := c.do(ctx, http.MethodPost, "/api/orders", req, &resp)
	return resp.Order, resp.Fill, err
}

// CreateBracket submits an entry with protective stop and optional take.
func (c *Client) CreateBracket(ctx context.Context, req BracketRequest) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/brackets", req, &resp)
	return resp, err
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/api/orders/"+orderID, nil, nil)
}

// TriggerOrder executes a resting order as if its condition fired.
func (c *Client) TriggerOrder(ctx context.Context, orderID string) (Fill, error) {
	var resp struct {
		Fill Fill `json:"fill"`
	}
	err := c.do(ctx, http.MethodPost, "/api/orders/"+orderID+"/trigger", nil, &resp)
	return resp.Fill, err
}

// Orders lists all order legs.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	var resp struct {
		Orders []Order `json:"orders"`
	}
	err := c.do(ctx, http.MethodGet, "/api/orders", nil, &resp)
	return resp.Orders, err
}

// Positions lists net positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var resp struct {
		Positions []Position `json:"positions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/positions", nil, &resp)
	return resp.Positions, err
}

// Fills lists all executions.
func (c *Client) Fills(ctx context.Context) ([]Fill, error) {
	var resp struct {
		Fills []Fill `json:"fills"`
	}
	err := c.do(ctx, http.MethodGet, "/api/fills", nil, &resp)
	return resp.Fills, err
}

// Performance returns the aggregated P&L summary.
func (c *Client) Performance(ctx context.Context) (Performance, error) {
	var perf Performance
	err := c.do(ctx, http.MethodGet, "/api/performance", nil, &perf)
	return perf, err
}

// Panic triggers an emergency stop, optionally flattening positions.
func (c *Client) Panic(ctx context.Context, flatten bool, reason string) error {
	body := map[string]any{"flatten": flatten, "reason": reason}
	return c.do(ctx, http.MethodPost, "/api/panic", body, nil)
}

// Resume clears a halt.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/resume", nil, nil)
}

// Health reports server liveness and halt state.
func (c *Client) Health(ctx context.Context) (ok, halted bool, err error) {
	var resp struct {
		Status string `json:"status"`
		Halted bool   `json:"halted"`
	}
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return false, false, err
	}
	return resp.Status == "ok", resp.Halted, nil
}
