// Package api holds the HTTP handlers of the event service. Every handler
// expects the auth middleware to have put the caller's user id on the
// request context.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode reads a JSON body into dst and runs its validate tags. It writes the
// 400 response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid field: "+verrs[0].Field())
			return false
		}
		response.WriteJSONError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// caller returns the authenticated user id or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// writeError maps domain sentinels onto status codes. Anything else is a 500
// and is logged.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrForbidden):
		response.WriteJSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrInvalid):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("Request failed", "op", op, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
