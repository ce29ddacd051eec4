package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// ProfileStore is the account half of the domain repository.
type ProfileStore interface {
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) error
	AttendedEventIDs(ctx context.Context, userID string) ([]string, error)
}

type ProfileAPI struct {
	Store    ProfileStore
	Accounts dispatch.AccountRegistrar
	Logger   *slog.Logger
}

func NewProfileAPI(store ProfileStore, accounts dispatch.AccountRegistrar, logger *slog.Logger) *ProfileAPI {
	return &ProfileAPI{
		Store:    store,
		Accounts: accounts,
		Logger:   logger.With("component", "ProfileAPI"),
	}
}

// RegisterRequest is sent once after sign-up. Role defaults to usuario and
// is ignored when the account already has one.
type RegisterRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=usuario organizador"`
}

type ProfileRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=100"`
	Phone       *string `json:"phone" validate:"omitempty,max=30"`
	Bio         *string `json:"bio" validate:"omitempty,max=1000"`
	PhotoURL    *string `json:"photoUrl" validate:"omitempty,url"`
}

type ProfileResponse struct {
	domain.Account
	Reachable      bool     `json:"reachable"`
	AttendedEvents []string `json:"attendedEvents"`
}

func (api *ProfileAPI) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	if err := api.Accounts.EnsureAccount(r.Context(), userID, req.Email, role); err != nil {
		writeError(w, api.Logger, "register account", err)
		return
	}
	api.Logger.Info("Account registered", "user", userID, "role", role)
	w.WriteHeader(http.StatusNoContent)
}

func (api *ProfileAPI) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	acc, err := api.Store.GetAccount(r.Context(), userID)
	if err != nil {
		writeError(w, api.Logger, "get profile", err)
		return
	}
	attended, err := api.Store.AttendedEventIDs(r.Context(), userID)
	if err != nil {
		writeError(w, api.Logger, "get profile", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, ProfileResponse{
		Account:        *acc,
		Reachable:      acc.FCMToken != "",
		AttendedEvents: attended,
	})
}

func (api *ProfileAPI) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req ProfileRequest
	if !decode(w, r, &req) {
		return
	}

	update := domain.ProfileUpdate{
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Bio:         req.Bio,
		PhotoURL:    req.PhotoURL,
	}
	if update.Empty() {
		response.WriteJSONError(w, http.StatusBadRequest, "no profile fields given")
		return
	}
	if err := api.Store.UpdateProfile(r.Context(), userID, update); err != nil {
		writeError(w, api.Logger, "update profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
