package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/fleetd/internal/api"
	"github.com/mozilla-ai/fleetd/internal/cmd"
	"github.com/mozilla-ai/fleetd/internal/contracts"
	"github.com/mozilla-ai/fleetd/internal/errors"
)

// APIServer serves the supervisor and health monitor over HTTP.
// NewAPIServer should be used to create instances of APIServer.
type APIServer struct {
	logger          hclog.Logger
	supervisor      contracts.ServerSupervisor
	monitor         contracts.HealthMonitor
	alerts          contracts.AlertFeed
	addr            string
	cors            CORSConfig
	metrics         http.Handler
	shutdownTimeout time.Duration
}

// NewAPIServer creates a new API server with the provided dependencies and options.
func NewAPIServer(deps APIDependencies, opt ...APIOption) (*APIServer, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for API server: %w", err)
	}

	apiOpts, err := NewAPIOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid API options: %w", err)
	}

	return &APIServer{
		logger:          deps.Logger.Named("api"),
		supervisor:      deps.Supervisor,
		monitor:         deps.Monitor,
		alerts:          deps.Alerts,
		addr:            deps.Addr,
		cors:            apiOpts.CORS,
		metrics:         apiOpts.MetricsHandler,
		shutdownTimeout: apiOpts.ShutdownTimeout,
	}, nil
}

// Handler builds the router serving every API route, returning it with the versioned path prefix.
func (a *APIServer) Handler() (http.Handler, string, error) {
	mux := chi.NewMux()
	mux.Use(middleware.StripSlashes)

	if a.cors.Enabled {
		a.applyCORS(mux)
	}

	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics)
	}

	config := huma.DefaultConfig("fleetd", cmd.Version())
	config.Transformers = append(config.Transformers, api.Transformers()...)
	router := humachi.New(mux, config)

	// Configure the error handling wrapping.
	huma.NewErrorWithContext = errorHandler(a.logger)

	prefix, err := api.RegisterRoutes(router, a.supervisor, a.monitor, a.alerts)
	if err != nil {
		return nil, "", err
	}

	return mux, prefix, nil
}

// Start serves the API and blocks until ctx is cancelled or the listener fails.
func (a *APIServer) Start(ctx context.Context) error {
	handler, prefix, err := a.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("Starting API server", "address", a.addr, "prefix", prefix)
		if err := srv.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down API server...")
		_ = srv.Shutdown(shutdownCtx)
		a.logger.Info("Shutdown complete")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// applyCORS applies CORS middleware to the router based on the configured options.
func (a *APIServer) applyCORS(mux *chi.Mux) {
	a.logger.Info("Enabling CORS", "origins", a.cors.AllowOrigins)

	corsOptions := cors.Options{
		AllowedOrigins:   make([]string, 0, len(a.cors.AllowOrigins)),
		AllowedMethods:   a.cors.AllowMethods,
		AllowedHeaders:   a.cors.AllowedHeaders,
		AllowCredentials: a.cors.AllowCredentials,
		MaxAge:           int(a.cors.MaxAge.Seconds()),
	}

	for _, origin := range a.cors.AllowOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			// Browsers reject credentialed requests to wildcard origins.
			corsOptions.AllowedOrigins = []string{"*"}
			corsOptions.AllowCredentials = false
			break
		}
		corsOptions.AllowedOrigins = append(corsOptions.AllowedOrigins, origin)
	}

	mux.Use(cors.Handler(corsOptions))
}

// mapError maps domain errors to HTTP status codes.
//
// Every error defined in internal/errors should have an explicit case here, otherwise it falls
// through to 500.
//
//   - 400: bad input
//   - 404: unknown server, or no health history yet
//   - 409: the request conflicts with the server's lifecycle state
//   - 502: the worker failed to answer a routed request
//   - 504: the worker did not answer a routed request in time
//   - 500: anything unexpected
func mapError(logger hclog.Logger, err error) huma.StatusError {
	switch {
	case stdErrors.Is(err, errors.ErrBadRequest):
		return huma.Error400BadRequest(err.Error())
	case stdErrors.Is(err, errors.ErrServerNotFound),
		stdErrors.Is(err, errors.ErrHealthNotTracked):
		return huma.Error404NotFound(err.Error())
	case stdErrors.Is(err, errors.ErrServerDisabled),
		stdErrors.Is(err, errors.ErrServerAlreadyRunning),
		stdErrors.Is(err, errors.ErrServerNotRunning),
		stdErrors.Is(err, errors.ErrServerPermanentlyFailed),
		stdErrors.Is(err, errors.ErrInvalidStateTransition):
		return huma.Error409Conflict(err.Error())
	case stdErrors.Is(err, errors.ErrServerTimeout):
		logger.Warn("Server request timed out", "error", err)
		return huma.Error504GatewayTimeout(err.Error())
	case stdErrors.Is(err, errors.ErrToolListFailed):
		logger.Error("Tool list failed", "error", err)
		return huma.Error502BadGateway("server error listing tools", err)
	case stdErrors.Is(err, errors.ErrToolCallFailed):
		logger.Error("Tool call failed", "error", err)
		return huma.Error502BadGateway("server error calling tool", err)
	default:
		logger.Error("Unexpected error", "error", err)
		return huma.Error500InternalServerError("Internal server error", err)
	}
}

// errorHandler converts errors returned by handlers into API errors.
// Handler errors reach huma as a 500 and are mapped by type; anything else (e.g. request
// validation) keeps the status huma chose.
func errorHandler(logger hclog.Logger) func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
	return func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		switch {
		case len(errs) == 0:
			return huma.NewError(status, msg)
		case status != http.StatusInternalServerError:
			return huma.NewError(status, msg, errs...)
		case len(errs) == 1:
			return mapError(logger, errs[0])
		default:
			return mapError(logger, stdErrors.Join(errs...))
		}
	}
}
