package api

import (
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	notification "github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// TestNotificationAPI sends a fixed push to a handful of reachable accounts
// so operators can check the FCM path end to end.
type TestNotificationAPI struct {
	Directory dispatch.RecipientDirectory
	Provider  dispatch.PushProvider
	Role      string
	Limit     int
	Logger    *slog.Logger
}

func NewTestNotificationAPI(
	directory dispatch.RecipientDirectory,
	provider dispatch.PushProvider,
	role string,
	limit int,
	logger *slog.Logger,
) *TestNotificationAPI {
	if limit <= 0 {
		limit = 10
	}
	return &TestNotificationAPI{
		Directory: directory,
		Provider:  provider,
		Role:      role,
		Limit:     limit,
		Logger:    logger.With("component", "TestNotificationAPI"),
	}
}

type TestNotificationResponse struct {
	Success bool `json:"success"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Total   int  `json:"total"`
}

func testPayload() dispatch.Payload {
	return dispatch.Payload{
		Content: notification.NotificationContent{
			Title: "Notificación de Prueba",
			Body:  "Esta es una notificación de prueba del sistema de eventos",
		},
		Data: map[string]string{
			"type":    "test",
			"eventId": "test",
		},
	}
}

// Send does not prune the tokens FCM rejects; that is left to real fan-outs.
func (api *TestNotificationAPI) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := api.Directory.FindReachableAccounts(ctx, api.Role, api.Limit)
	if err != nil {
		api.Logger.Error("Failed to look up test recipients", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tokens := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		if acc.FCMToken != "" {
			tokens = append(tokens, acc.FCMToken)
		}
	}
	if len(tokens) == 0 {
		response.WriteJSONError(w, http.StatusBadRequest, "No hay tokens disponibles")
		return
	}

	result, err := api.Provider.SendMulticast(ctx, tokens, testPayload())
	if err != nil {
		api.Logger.Error("Test notification failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	api.Logger.Info("Test notification sent", "success", result.SuccessCount(), "failure", result.FailureCount())
	response.WriteJSON(w, http.StatusOK, TestNotificationResponse{
		Success: true,
		Sent:    result.SuccessCount(),
		Failed:  result.FailureCount(),
		Total:   len(tokens),
	})
}
