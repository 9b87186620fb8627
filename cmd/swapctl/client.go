package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"fixedswap/services/swapd/api"
	"fixedswap/services/swapd/idempotency"
)

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

type apiError struct {
	Status int
	Body   api.Error
}

func (e *apiError) Error() string {
	if e.Body.Code == "" {
		return fmt.Sprintf("swapd returned %d", e.Status)
	}
	return fmt.Sprintf("swapd returned %d %s: %s", e.Status, e.Body.Code, e.Body.Message)
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any, idempotent bool) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotent {
		req.Header.Set(idempotency.HeaderKey, uuid.NewString())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, &apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func pairPath(x, y string) string {
	return "/v1/pairs/" + url.PathEscape(strings.ToUpper(x)) + "/" + url.PathEscape(strings.ToUpper(y))
}

func (c *client) initialize(ctx context.Context, req api.InitializeRequest) (api.Pair, error) {
	var out api.Pair
	err := c.do(ctx, http.MethodPost, "/v1/pairs", req, &out, true)
	return out, err
}

func (c *client) pair(ctx context.Context, x, y string) (api.Pair, error) {
	var out api.Pair
	err := c.do(ctx, http.MethodGet, pairPath(x, y), nil, &out, false)
	return out, err
}

func (c *client) pairs(ctx context.Context) ([]api.Pair, error) {
	var out struct {
		Pairs []api.Pair `json:"pairs"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/pairs", nil, &out, false)
	return out.Pairs, err
}

func (c *client) updatePrice(ctx context.Context, x, y, price string) (api.Pair, error) {
	var out api.Pair
	err := c.do(ctx, http.MethodPut, pairPath(x, y)+"/price", api.PriceRequest{ScaledPrice: price}, &out, true)
	return out, err
}

func (c *client) updateParams(ctx context.Context, x, y string, req api.ParamsRequest) (api.Pair, error) {
	var out api.Pair
	err := c.do(ctx, http.MethodPatch, pairPath(x, y)+"/params", req, &out, true)
	return out, err
}

func (c *client) quote(ctx context.Context, x, y, mode, direction, amount string) (api.Quote, error) {
	query := url.Values{"mode": {mode}, "direction": {direction}, "amount": {amount}}
	var out api.Quote
	err := c.do(ctx, http.MethodGet, pairPath(x, y)+"/quote?"+query.Encode(), nil, &out, false)
	return out, err
}

func (c *client) swapExactIn(ctx context.Context, x, y string, req api.ExactInRequest) (api.Receipt, error) {
	var out api.Receipt
	err := c.do(ctx, http.MethodPost, pairPath(x, y)+"/swap/exact-in", req, &out, true)
	return out, err
}

func (c *client) swapExactOut(ctx context.Context, x, y string, req api.ExactOutRequest) (api.Receipt, error) {
	var out api.Receipt
	err := c.do(ctx, http.MethodPost, pairPath(x, y)+"/swap/exact-out", req, &out, true)
	return out, err
}

func (c *client) credit(ctx context.Context, req api.CreditRequest) (api.Holding, error) {
	var out api.Holding
	err := c.do(ctx, http.MethodPost, "/ops/credit", req, &out, true)
	return out, err
}

func (c *client) balances(ctx context.Context) (api.Balances, error) {
	var out api.Balances
	err := c.do(ctx, http.MethodGet, "/v1/balances", nil, &out, false)
	return out, err
}

func (c *client) vaults(ctx context.Context, x, y string) (api.Balances, error) {
	var out api.Balances
	err := c.do(ctx, http.MethodGet, pairPath(x, y)+"/vaults", nil, &out, false)
	return out, err
}

func (c *client) swaps(ctx context.Context, query url.Values) ([]api.Receipt, error) {
	path := "/v1/swaps"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out struct {
		Swaps []api.Receipt `json:"swaps"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out, false)
	return out.Swaps, err
}

// watch streams events until ctx ends, invoking fn for each one.
func (c *client) watch(ctx context.Context, cursor string, fn func(api.Event) error) error {
	target := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/stream"
	if cursor != "" {
		target += "?cursor=" + url.QueryEscape(cursor)
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var event api.Event
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
