package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"fixedswap/native/swap"
	"fixedswap/services/swapd/api"
)

// swapErrorStatus maps an engine error onto an HTTP status.
func swapErrorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, swap.ErrPairNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, swap.ErrPairExists):
		return http.StatusConflict
	case errors.Is(err, swap.ErrExpired):
		return http.StatusGatewayTimeout
	}
	switch swap.Classify(err) {
	case swap.ClassAuthorization:
		return http.StatusForbidden
	case swap.ClassGuard:
		return http.StatusConflict
	case swap.ClassArithmetic:
		return http.StatusUnprocessableEntity
	case swap.ClassState:
		return http.StatusConflict
	case swap.ClassInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeSwapError(w http.ResponseWriter, r *http.Request, err error) {
	status := swapErrorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("swapd request failed", "route", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeError(w, status, swap.Code(err), swap.Classify(err).String(), message)
}

func writeError(w http.ResponseWriter, status int, code, class, message string) {
	writeJSON(w, status, api.Error{Code: code, Class: class, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("swapd response encode failed", "error", err)
	}
}
