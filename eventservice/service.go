// Package eventservice assembles the HTTP API and the fan-out pipeline into
// one deployable service.
package eventservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-event-service/eventservice/config"
	"github.com/tinywideclouds/go-event-service/internal/api"
	"github.com/tinywideclouds/go-event-service/internal/pipeline"
	"github.com/tinywideclouds/go-event-service/pkg/dispatch"
	"github.com/tinywideclouds/go-event-service/pkg/domain"
)

// Repository is the part of the domain repository served directly over HTTP.
type Repository interface {
	api.CommentReader
	api.AttendanceStore
	api.ProfileStore
}

// Dependencies are the collaborators built by main.
type Dependencies struct {
	Consumer   messagepipeline.MessageConsumer
	Dispatcher pipeline.StagingDispatcher
	Events     api.EventService
	Repository Repository
	Tokens     dispatch.TokenStore
	Accounts   dispatch.AccountRegistrar
	Directory  dispatch.RecipientDirectory
	Provider   dispatch.PushProvider
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[domain.StagingRecord]
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	deps Dependencies,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	processor := pipeline.NewProcessor(deps.Dispatcher, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		deps.Consumer,
		pipeline.StagingTriggerTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	tokenAPI := api.NewTokenAPI(deps.Tokens, logger)
	eventAPI := api.NewEventAPI(deps.Events, deps.Repository, logger)
	attendanceAPI := api.NewAttendanceAPI(deps.Repository, logger)
	profileAPI := api.NewProfileAPI(deps.Repository, deps.Accounts, logger)
	testAPI := api.NewTestNotificationAPI(
		deps.Directory, deps.Provider, cfg.Fanout.RecipientRole, cfg.Fanout.TestRecipientLimit, logger,
	)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Events
	handle("POST /api/v1/events", eventAPI.CreateEvent)
	handle("GET /api/v1/events", eventAPI.ListEvents)
	handle("GET /api/v1/events/{id}", eventAPI.GetEvent)
	handle("PUT /api/v1/events/{id}", eventAPI.UpdateEvent)
	handle("DELETE /api/v1/events/{id}", eventAPI.DeleteEvent)
	handle("GET /api/v1/organizers/me/events", eventAPI.ListMyEvents)

	// Attendance
	handle("POST /api/v1/events/{id}/attendance", attendanceAPI.Confirm)
	handle("DELETE /api/v1/events/{id}/attendance", attendanceAPI.Cancel)
	handle("GET /api/v1/events/{id}/attendance", attendanceAPI.Status)
	handle("GET /api/v1/events/{id}/attendees", attendanceAPI.Attendees)

	// Comments
	handle("POST /api/v1/events/{id}/comments", eventAPI.AddComment)
	handle("GET /api/v1/events/{id}/comments", eventAPI.ListComments)
	handle("GET /api/v1/events/{id}/rating", eventAPI.Rating)

	// Profile and device token
	handle("POST /api/v1/profile", profileAPI.Register)
	handle("GET /api/v1/profile", profileAPI.GetProfile)
	handle("PUT /api/v1/profile", profileAPI.UpdateProfile)
	handle("POST /api/v1/register/fcm", tokenAPI.RegisterFCM)
	handle("POST /api/v1/unregister/fcm", tokenAPI.UnregisterFCM)

	// Operator check of the push path
	handle("POST /api/v1/notifications/test", testAPI.Send)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Fan-out pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
