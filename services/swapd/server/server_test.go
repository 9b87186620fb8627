package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"fixedswap/native/swap"
	"fixedswap/services/swapd/api"
	"fixedswap/services/swapd/events"
	"fixedswap/services/swapd/identity"
	"fixedswap/services/swapd/idempotency"
	"fixedswap/services/swapd/journal"
	"fixedswap/services/swapd/storage"
)

const opsToken = "ops-secret"

var (
	admin     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	trader    = common.HexToAddress("0x2000000000000000000000000000000000000002")
	stranger  = common.HexToAddress("0x3000000000000000000000000000000000000003")
	idConfig  = identity.Config{Secret: []byte(strings.Repeat("k", 32)), Issuer: "swapd-test", Audience: "swapd"}
	pairPath  = "/v1/pairs/XTK/YTK"
	testPair  = swap.PairKey{X: "XTK", Y: "YTK"}
	vaultAddr = swap.DeriveAuthority(testPair)
)

type harness struct {
	t       *testing.T
	srv     *httptest.Server
	engine  *swap.Engine
	journal *journal.Journal
	hub     *events.Hub
}

func newHarness(t *testing.T, rl RateLimitConfig, withOps bool) *harness {
	t.Helper()
	ledger, err := storage.Open(storage.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	engine, err := swap.NewEngine(ledger)
	require.NoError(t, err)

	jr, err := journal.Open(journal.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jr.Close() })
	hub := events.NewHub()
	engine.AddObserver(jr)
	engine.AddObserver(hub)

	idemStore, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idemStore.Close() })

	verifier, err := identity.NewVerifier(idConfig)
	require.NoError(t, err)

	deps := Dependencies{
		Engine:      engine,
		Ledger:      ledger,
		Identity:    verifier,
		Journal:     jr,
		Events:      hub,
		Idempotency: idempotency.NewReplayer(idemStore, time.Hour, CallerScope),
	}
	if withOps {
		deps.Operators, err = NewAuthenticator(AuthConfig{BearerToken: opsToken})
		require.NoError(t, err)
	}
	srv, err := New(Config{ListenAddress: "127.0.0.1:0", RateLimit: rl}, deps)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{t: t, srv: ts, engine: engine, journal: jr, hub: hub}
}

func (h *harness) token(who common.Address) string {
	token, err := identity.Issue(idConfig, who, time.Hour, time.Now())
	require.NoError(h.t, err)
	return "Bearer " + token
}

func (h *harness) do(method, path, auth string, body any, headers ...string) (int, http.Header, []byte) {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(h.t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, resp.Header, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func (h *harness) bootstrap() {
	h.t.Helper()
	status, _, body := h.do(http.MethodPost, "/v1/pairs", h.token(admin), api.InitializeRequest{X: "xtk", Y: "ytk", SpreadBps: 100})
	require.Equal(h.t, http.StatusCreated, status, string(body))
	status, _, body = h.do(http.MethodPut, pairPath+"/price", h.token(admin), api.PriceRequest{ScaledPrice: "2000000"})
	require.Equal(h.t, http.StatusOK, status, string(body))
	for _, credit := range []api.CreditRequest{
		{Owner: trader.Hex(), Asset: "XTK", Amount: "1000"},
		{Owner: vaultAddr.Hex(), Asset: "YTK", Amount: "5000"},
	} {
		status, _, body = h.do(http.MethodPost, "/ops/credit", "Bearer "+opsToken, credit)
		require.Equal(h.t, http.StatusOK, status, string(body))
	}
}

func TestPairLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, RateLimitConfig{Disabled: true}, true)

	status, _, body := h.do(http.MethodPost, "/v1/pairs", h.token(admin), api.InitializeRequest{X: "XTK", Y: "YTK", SpreadBps: 100})
	require.Equal(t, http.StatusCreated, status, string(body))
	created := decode[api.Pair](t, body)
	require.Equal(t, admin.Hex(), created.Administrator)
	require.Equal(t, vaultAddr.Hex(), created.Authority)
	require.False(t, created.Enabled)
	require.EqualValues(t, 30_000, created.ExpirationWindowMs)

	status, _, body = h.do(http.MethodPost, "/v1/pairs", h.token(admin), api.InitializeRequest{X: "XTK", Y: "YTK", SpreadBps: 100})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "pair_exists", decode[api.Error](t, body).Code)

	status, _, body = h.do(http.MethodGet, pairPath+"/quote?direction=x_to_y&amount=1000", "", nil)
	require.Equal(t, http.StatusNotFound, status, string(body))

	status, _, body = h.do(http.MethodPut, pairPath+"/price", h.token(stranger), api.PriceRequest{ScaledPrice: "2000000"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "unauthorized", decode[api.Error](t, body).Code)

	status, _, body = h.do(http.MethodPut, pairPath+"/price", h.token(admin), api.PriceRequest{ScaledPrice: "2000000"})
	require.Equal(t, http.StatusOK, status, string(body))
	require.True(t, decode[api.Pair](t, body).Enabled)

	spread := uint64(10_000)
	status, _, body = h.do(http.MethodPatch, pairPath+"/params", h.token(admin), api.ParamsRequest{SpreadBps: &spread})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "invalid_spread", decode[api.Error](t, body).Code)

	window := int64(5_000)
	spread = 50
	status, _, body = h.do(http.MethodPatch, pairPath+"/params", h.token(admin), api.ParamsRequest{SpreadBps: &spread, ExpirationWindowMs: &window})
	require.Equal(t, http.StatusOK, status, string(body))
	updated := decode[api.Pair](t, body)
	require.EqualValues(t, 50, updated.SpreadBps)
	require.EqualValues(t, 5_000, updated.ExpirationWindowMs)
	require.Equal(t, "2000000", updated.ScaledPrice)

	window = math.MaxInt64
	status, _, body = h.do(http.MethodPatch, pairPath+"/params", h.token(admin), api.ParamsRequest{ExpirationWindowMs: &window})
	require.Equal(t, http.StatusBadRequest, status, string(body))
	require.Equal(t, "invalid_payload", decode[api.Error](t, body).Code)

	window = 0
	status, _, body = h.do(http.MethodPatch, pairPath+"/params", h.token(admin), api.ParamsRequest{ExpirationWindowMs: &window})
	require.Equal(t, http.StatusOK, status, string(body))
	require.EqualValues(t, 30_000, decode[api.Pair](t, body).ExpirationWindowMs)

	status, _, body = h.do(http.MethodGet, "/v1/pairs", "", nil)
	require.Equal(t, http.StatusOK, status)
	listed := decode[struct {
		Pairs []api.Pair `json:"pairs"`
	}](t, body)
	require.Len(t, listed.Pairs, 1)

	status, _, _ = h.do(http.MethodGet, "/v1/pairs/YTK/XTK", "", nil)
	require.Equal(t, http.StatusNotFound, status)
	status, _, _ = h.do(http.MethodGet, "/v1/pairs/XTK/XTK", "", nil)
	require.Equal(t, http.StatusBadRequest, status)

	history, err := h.journal.PairHistory(context.Background(), testPair, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
}

func TestSwapsOverHTTP(t *testing.T) {
	h := newHarness(t, RateLimitConfig{Disabled: true}, true)
	h.bootstrap()

	status, _, body := h.do(http.MethodGet, pairPath+"/quote?direction=x_to_y&amount=1000", "", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	quote := decode[api.Quote](t, body)
	require.Equal(t, "1980", quote.AmountOut)
	require.Equal(t, "20", quote.Fee)

	status, _, body = h.do(http.MethodPost, pairPath+"/swap/exact-in", h.token(trader),
		api.ExactInRequest{Direction: "x_to_y", AmountIn: "1000", MinAmountOut: "1981"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "output_too_small", decode[api.Error](t, body).Code)

	key := "swap-" + uuid.NewString()
	status, _, first := h.do(http.MethodPost, pairPath+"/swap/exact-in", h.token(trader),
		api.ExactInRequest{Direction: "x_to_y", AmountIn: "1000", MinAmountOut: "1980"}, idempotency.HeaderKey, key)
	require.Equal(t, http.StatusOK, status, string(first))
	receipt := decode[api.Receipt](t, first)
	require.Equal(t, "1000", receipt.AmountIn)
	require.Equal(t, "1980", receipt.AmountOut)
	require.Equal(t, "YTK", receipt.FeeAsset)

	status, headers, replay := h.do(http.MethodPost, pairPath+"/swap/exact-in", h.token(trader),
		api.ExactInRequest{Direction: "x_to_y", AmountIn: "1000", MinAmountOut: "1980"}, idempotency.HeaderKey, key)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "hit", headers.Get("X-Idempotency-Cache"))
	require.JSONEq(t, string(first), string(replay))

	status, _, body = h.do(http.MethodGet, "/v1/balances", h.token(trader), nil)
	require.Equal(t, http.StatusOK, status)
	balances := decode[api.Balances](t, body)
	got := map[string]string{}
	for _, holding := range balances.Holdings {
		got[holding.Asset] = holding.Balance
	}
	require.Equal(t, map[string]string{"XTK": "0", "YTK": "1980"}, got)

	status, _, body = h.do(http.MethodPost, pairPath+"/swap/exact-out", h.token(trader),
		api.ExactOutRequest{Direction: "y_to_x", AmountOut: "500", MaxAmountIn: "1009"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "input_too_large", decode[api.Error](t, body).Code)

	status, _, body = h.do(http.MethodPost, pairPath+"/swap/exact-out", h.token(trader),
		api.ExactOutRequest{Direction: "y_to_x", AmountOut: "500", MaxAmountIn: "1010"})
	require.Equal(t, http.StatusOK, status, string(body))
	exactOut := decode[api.Receipt](t, body)
	require.Equal(t, "500", exactOut.AmountOut)
	require.Equal(t, "1010", exactOut.AmountIn)
	require.Equal(t, "YTK", exactOut.FeeAsset)

	status, _, body = h.do(http.MethodGet, pairPath+"/vaults", "", nil)
	require.Equal(t, http.StatusOK, status)
	vaults := decode[api.Balances](t, body)
	require.Equal(t, vaultAddr.Hex(), vaults.Owner)
	vaultBalances := map[string]string{}
	for _, holding := range vaults.Holdings {
		require.True(t, holding.Vault)
		vaultBalances[holding.Asset] = holding.Balance
	}
	require.Equal(t, map[string]string{"XTK": "500", "YTK": "4030"}, vaultBalances)

	status, _, body = h.do(http.MethodGet, "/v1/swaps?pair=XTK/YTK&trader="+trader.Hex(), "", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	swaps := decode[struct {
		Swaps []api.Receipt `json:"swaps"`
	}](t, body)
	require.Len(t, swaps.Swaps, 2)
	require.Equal(t, exactOut.ID, swaps.Swaps[0].ID)

	_, cancel, backlog := h.hub.Subscribe(context.Background(), "")
	defer cancel()
	require.Len(t, backlog, 4)
}

func TestAuthenticationRequired(t *testing.T) {
	h := newHarness(t, RateLimitConfig{Disabled: true}, false)

	status, _, body := h.do(http.MethodPost, "/v1/pairs", "", api.InitializeRequest{X: "XTK", Y: "YTK"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthenticated", decode[api.Error](t, body).Code)

	status, _, _ = h.do(http.MethodGet, "/v1/balances", "Bearer garbage", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _, body = h.do(http.MethodPost, "/ops/credit", "Bearer "+opsToken, api.CreditRequest{Owner: trader.Hex(), Asset: "XTK", Amount: "1"})
	require.Equal(t, http.StatusServiceUnavailable, status, string(body))
}

func TestPayloadValidation(t *testing.T) {
	h := newHarness(t, RateLimitConfig{Disabled: true}, true)
	h.bootstrap()

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+pairPath+"/swap/exact-in", strings.NewReader(`{"direction":"x_to_y","amount_in":"1","surprise":true}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", h.token(trader))
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cases := []struct {
		name string
		body api.ExactInRequest
		code string
	}{
		{"negative amount", api.ExactInRequest{Direction: "x_to_y", AmountIn: "-1"}, "invalid_payload"},
		{"overflowing amount", api.ExactInRequest{Direction: "x_to_y", AmountIn: "18446744073709551616"}, "invalid_payload"},
		{"zero amount", api.ExactInRequest{Direction: "x_to_y", AmountIn: "0"}, "invalid_amount"},
		{"bad direction", api.ExactInRequest{Direction: "sideways", AmountIn: "1"}, "invalid_direction"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _, body := h.do(http.MethodPost, pairPath+"/swap/exact-in", h.token(trader), tc.body)
			require.Equal(t, http.StatusBadRequest, status)
			require.Equal(t, tc.code, decode[api.Error](t, body).Code)
		})
	}

	status, _, body := h.do(http.MethodPost, "/ops/credit", "Bearer "+opsToken, api.CreditRequest{Owner: "0x0", Asset: "XTK", Amount: "1"})
	require.Equal(t, http.StatusBadRequest, status, string(body))

	status, _, body = h.do(http.MethodGet, pairPath+"/quote?direction=x_to_y&amount=1&mode=sideways", "", nil)
	require.Equal(t, http.StatusBadRequest, status, string(body))

	status, _, body = h.do(http.MethodGet, pairPath+"/quote?direction=x_to_y&amount=990&mode=exact_out", "", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	require.Equal(t, "500", decode[api.Quote](t, body).AmountIn)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}, false)
	for i := 0; i < 2; i++ {
		status, _, _ := h.do(http.MethodGet, "/v1/pairs", "", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, headers, body := h.do(http.MethodGet, "/v1/pairs", "", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "1", headers.Get("Retry-After"))
	require.Equal(t, "rate_limited", decode[api.Error](t, body).Code)

	status, _, _ = h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestRateLimiterPrune(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	require.True(t, limiter.allow("a"))
	require.False(t, limiter.allow("a"))
	now = now.Add(limiterIdleTTL + time.Second)
	require.Equal(t, 1, limiter.Prune())
	require.True(t, limiter.allow("a"))
}

func TestSwapErrorStatus(t *testing.T) {
	cases := map[error]int{
		nil:                             http.StatusOK,
		swap.ErrUnauthorized:            http.StatusForbidden,
		swap.ErrTransferUnauthorized:    http.StatusForbidden,
		swap.ErrOutputTooSmall:          http.StatusConflict,
		swap.ErrUserInsufficientBalance: http.StatusConflict,
		swap.ErrExpired:                 http.StatusGatewayTimeout,
		swap.ErrArithmeticOverflow:      http.StatusUnprocessableEntity,
		swap.ErrPairNotInitialized:      http.StatusNotFound,
		swap.ErrPairExists:              http.StatusConflict,
		swap.ErrInvalidSpread:           http.StatusBadRequest,
		errors.New("disk on fire"):      http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := swapErrorStatus(err); got != want {
			t.Fatalf("swapErrorStatus(%v) = %d, want %d", err, got, want)
		}
	}
	wrapped := fmt.Errorf("settle: %w", swap.ErrInsufficientLiquidity)
	require.Equal(t, http.StatusConflict, swapErrorStatus(wrapped))
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, RateLimitConfig{Disabled: true}, false)
	status, _, body := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok"}`, string(body))

	status, _, body = h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "fixedswap_http_requests_total")
}

func TestCallerScope(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.Equal(t, "", CallerScope(req))
	req = req.WithContext(identity.WithCaller(req.Context(), trader))
	require.Equal(t, strings.ToLower(trader.Hex()), CallerScope(req))
}
