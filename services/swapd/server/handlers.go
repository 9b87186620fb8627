package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"fixedswap/native/swap"
	"fixedswap/services/swapd/api"
	"fixedswap/services/swapd/identity"
	"fixedswap/services/swapd/journal"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", swap.ClassInvalid.String(), fmt.Sprintf("invalid payload: %v", err))
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid_payload", swap.ClassInvalid.String(), err.Error())
}

func pairFromPath(w http.ResponseWriter, r *http.Request) (swap.PairKey, bool) {
	pair, err := swap.NewPairKey(chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		writeSwapError(w, r, err)
		return swap.PairKey{}, false
	}
	return pair, true
}

func callerOf(r *http.Request) common.Address {
	caller, _ := identity.CallerFromContext(r.Context())
	return caller
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.deps.Ledger.ListPairs(r.Context())
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	views := make([]api.Pair, 0, len(pairs))
	for _, state := range pairs {
		views = append(views, api.PairFrom(state))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": views})
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	state, err := s.deps.Engine.Pair(r.Context(), pair)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.PairFrom(state))
}

func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	state, err := s.deps.Engine.Pair(r.Context(), pair)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	s.writeHoldings(w, r, state.Authority)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	s.writeHoldings(w, r, callerOf(r))
}

func (s *Server) writeHoldings(w http.ResponseWriter, r *http.Request, owner common.Address) {
	holdings, err := s.deps.Ledger.Holdings(r.Context(), owner)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	view := api.Balances{Owner: owner.Hex(), Holdings: make([]api.Holding, 0, len(holdings))}
	for _, h := range holdings {
		view.Holdings = append(view.Holdings, api.Holding{Asset: string(h.Asset), Balance: api.FormatAmount(h.Balance), Vault: h.Vault})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	direction, err := swap.ParseDirection(query.Get("direction"))
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	amount, err := api.ParseAmount("amount", query.Get("amount"))
	if err != nil {
		badRequest(w, err)
		return
	}
	var quote swap.Quote
	switch mode := strings.ToLower(strings.TrimSpace(query.Get("mode"))); mode {
	case "", string(swap.ModeExactIn), "exact-in":
		quote, err = s.deps.Engine.QuoteExactIn(r.Context(), pair, direction, amount)
	case string(swap.ModeExactOut), "exact-out":
		quote, err = s.deps.Engine.QuoteExactOut(r.Context(), pair, direction, amount)
	default:
		badRequest(w, fmt.Errorf("unknown mode %q", mode))
		return
	}
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.QuoteFrom(pair, quote))
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req api.InitializeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := swap.NewPairKey(req.X, req.Y)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	window, err := api.ParseMillis("expiration_window_ms", req.ExpirationWindowMs)
	if err != nil {
		badRequest(w, err)
		return
	}
	state, err := s.deps.Engine.Initialize(r.Context(), callerOf(r), swap.InitParams{
		Pair:             pair,
		SpreadBps:        req.SpreadBps,
		ExpirationWindow: window,
	})
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.PairFrom(state))
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	var req api.PriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, err := api.ParseAmount("scaled_price", req.ScaledPrice)
	if err != nil {
		badRequest(w, err)
		return
	}
	state, err := s.deps.Engine.UpdatePrice(r.Context(), callerOf(r), pair, price)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.PairFrom(state))
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	var req api.ParamsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var update swap.ParamsUpdate
	if req.ScaledPrice != nil {
		price, err := api.ParseAmount("scaled_price", *req.ScaledPrice)
		if err != nil {
			badRequest(w, err)
			return
		}
		update.Price = &price
	}
	update.SpreadBps = req.SpreadBps
	if req.ExpirationWindowMs != nil {
		window, err := api.ParseMillis("expiration_window_ms", *req.ExpirationWindowMs)
		if err != nil {
			badRequest(w, err)
			return
		}
		update.ExpirationWindow = &window
	}
	state, err := s.deps.Engine.UpdateParams(r.Context(), callerOf(r), pair, update)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.PairFrom(state))
}

func (s *Server) handleSwapExactIn(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	var req api.ExactInRequest
	if !decodeBody(w, r, &req) {
		return
	}
	direction, err := swap.ParseDirection(req.Direction)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	amountIn, err := api.ParseAmount("amount_in", req.AmountIn)
	if err != nil {
		badRequest(w, err)
		return
	}
	minOut, err := api.ParseOptionalAmount("min_amount_out", req.MinAmountOut)
	if err != nil {
		badRequest(w, err)
		return
	}
	receipt, err := s.deps.Engine.SwapExactIn(r.Context(), swap.ExactInRequest{
		Pair:         pair,
		Trader:       callerOf(r),
		Direction:    direction,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
	})
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ReceiptFrom(receipt))
}

func (s *Server) handleSwapExactOut(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	var req api.ExactOutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	direction, err := swap.ParseDirection(req.Direction)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	amountOut, err := api.ParseAmount("amount_out", req.AmountOut)
	if err != nil {
		badRequest(w, err)
		return
	}
	maxIn, err := api.ParseAmount("max_amount_in", req.MaxAmountIn)
	if err != nil {
		badRequest(w, err)
		return
	}
	receipt, err := s.deps.Engine.SwapExactOut(r.Context(), swap.ExactOutRequest{
		Pair:        pair,
		Trader:      callerOf(r),
		Direction:   direction,
		AmountOut:   amountOut,
		MaxAmountIn: maxIn,
	})
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ReceiptFrom(receipt))
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_disabled", "", "swap journal is not configured")
		return
	}
	query := r.URL.Query()
	var filter journal.Filter
	if raw := strings.TrimSpace(query.Get("pair")); raw != "" {
		x, y, _ := strings.Cut(raw, "/")
		pair, err := swap.NewPairKey(x, y)
		if err != nil {
			writeSwapError(w, r, err)
			return
		}
		filter.Pair = &pair
	}
	if raw := strings.TrimSpace(query.Get("trader")); raw != "" {
		trader, ok := swap.ParseAddress(raw)
		if !ok {
			badRequest(w, errors.New("trader must be a hex address"))
			return
		}
		filter.Trader = &trader
	}
	if raw := strings.TrimSpace(query.Get("before")); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequest(w, errors.New("before must be an RFC3339 timestamp"))
			return
		}
		filter.Before = before
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(w, errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	receipts, err := s.deps.Journal.ListSwaps(r.Context(), filter)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	views := make([]api.Receipt, 0, len(receipts))
	for _, receipt := range receipts {
		views = append(views, api.ReceiptFrom(receipt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"swaps": views})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req api.CreditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, ok := swap.ParseAddress(req.Owner)
	if !ok {
		badRequest(w, errors.New("owner must be a non-zero hex address"))
		return
	}
	asset, err := swap.ParseAsset(req.Asset)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	amount, err := api.ParseAmount("amount", req.Amount)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.deps.Ledger.Credit(r.Context(), owner, asset, amount); err != nil {
		writeSwapError(w, r, err)
		return
	}
	balance, err := s.deps.Ledger.Balance(r.Context(), owner, asset)
	if err != nil {
		writeSwapError(w, r, err)
		return
	}
	operator := "unknown"
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		operator = principal.Method + ":" + principal.Subject
	}
	slog.Info("custody credited",
		"owner", owner.Hex(),
		"asset", string(asset),
		"amount", amount,
		"operator", operator)
	writeJSON(w, http.StatusOK, api.Holding{Asset: string(asset), Balance: api.FormatAmount(balance)})
}
