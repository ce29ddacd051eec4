package api

import (
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
)

type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger.With("component", "TokenAPI"),
	}
}

type RegisterFCMRequest struct {
	Token string `json:"token" validate:"required"`
}

// RegisterFCM stores the caller's current device token, replacing any
// previous one.
func (api *TokenAPI) RegisterFCM(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	var req RegisterFCMRequest
	if !decode(w, r, &req) {
		return
	}

	if err := api.Store.SetDeviceToken(r.Context(), userID, req.Token); err != nil {
		api.Logger.Error("failed to register fcm", "user", userID, "err", err)
		writeError(w, api.Logger, "register fcm", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnregisterFCM removes the caller's device token. It is idempotent: an
// account without a token still gets a 204.
func (api *TokenAPI) UnregisterFCM(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := api.Store.ClearDeviceToken(r.Context(), userID); err != nil {
		api.Logger.Warn("failed to unregister fcm", "user", userID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
