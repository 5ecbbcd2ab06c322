// Package rest implements broker.Adapter against the brokerage bridge REST
// API. The bridge owns the actual brokerage wire protocol; this client only
// speaks its JSON surface.
package rest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"strike/internal/broker"
	"strike/internal/config"
	"strike/internal/pkg/convert"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	http *resty.Client
	host string
	port int
	mode string
}

func NewClient(cfg config.BrokerConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, fmt.Errorf("broker bridge requires base_url or host")
		}
		base = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: httpc, host: cfg.Host, port: cfg.Port, mode: cfg.Mode}, nil
}

func (c *Client) SubmitPaperOrder(ctx context.Context, req broker.SubmitRequest) (string, error) {
	var out struct {
		BrokerRef string `json:"broker_ref"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/orders")
	if err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("submit order: bridge status=%d body=%s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.BrokerRef == "" {
		return "", fmt.Errorf("submit order: bridge returned no broker_ref")
	}
	return out.BrokerRef, nil
}

func (c *Client) RefreshOrderStatuses(ctx context.Context, orderIDs []string) (map[string]broker.OrderStatusUpdate, error) {
	// Bridges are loose about numeric types here (some emit quantities and
	// prices as strings), so decode generically and coerce.
	var out map[string]map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"order_ids": orderIDs}).
		SetResult(&out).
		Post("/orders/statuses")
	if err != nil {
		return nil, fmt.Errorf("refresh statuses: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("refresh statuses: bridge status=%d", resp.StatusCode())
	}
	updates := make(map[string]broker.OrderStatusUpdate, len(out))
	for id, raw := range out {
		updates[id] = broker.OrderStatusUpdate{
			Status:        asString(raw["status"]),
			BrokerOrderID: asString(raw["broker_order_id"]),
			Filled:        convert.ToFloat64(raw["filled"]),
			Remaining:     convert.ToFloat64(raw["remaining"]),
			AvgFillPrice:  convert.ToFloat64(raw["avg_fill_price"]),
			Source:        asString(raw["source"]),
		}
	}
	return updates, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func (c *Client) GetPositionsSnapshot(ctx context.Context) ([]broker.Position, error) {
	var out []broker.Position
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("positions snapshot: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("positions snapshot: bridge status=%d", resp.StatusCode())
	}
	return out, nil
}

func (c *Client) GetAccountSnapshot(ctx context.Context) (broker.AccountSnapshot, error) {
	var out broker.AccountSnapshot
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/account")
	if err != nil {
		return broker.AccountSnapshot{}, fmt.Errorf("account snapshot: %w", err)
	}
	if resp.IsError() {
		return broker.AccountSnapshot{}, fmt.Errorf("account snapshot: bridge status=%d", resp.StatusCode())
	}
	return out, nil
}

func (c *Client) GetOptionMidPrice(ctx context.Context, contract broker.OptionContract) (float64, error) {
	var out struct {
		Mid float64 `json:"mid"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     contract.Symbol,
			"expiration": contract.Expiration,
			"strike":     fmt.Sprintf("%g", contract.Strike),
			"right":      contract.Right,
		}).
		SetResult(&out).
		Get("/options/mid")
	if err != nil {
		return 0, fmt.Errorf("option mid: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("option mid: bridge status=%d", resp.StatusCode())
	}
	return out.Mid, nil
}

func (c *Client) GetConnectionStatus(ctx context.Context) (broker.ConnectionStatus, error) {
	var out broker.ConnectionStatus
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/status")
	if err != nil {
		return broker.ConnectionStatus{Reachable: false, Host: c.host, Port: c.port}, nil
	}
	if resp.IsError() {
		return broker.ConnectionStatus{Reachable: false, Host: c.host, Port: c.port}, nil
	}
	if out.Host == "" {
		out.Host = c.host
		out.Port = c.port
	}
	if out.DetectedMode == "" {
		out.DetectedMode = c.mode
	}
	return out, nil
}
