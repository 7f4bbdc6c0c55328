// Package api is the read-only operational HTTP surface: build info, device
// checkpoint and health, template sync state. It never mutates anything; all
// writes go through the reconcile flows.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/rs/zerolog"

	"github.com/meden/biosync/internal/checkpoint"
	"github.com/meden/biosync/internal/config"
	"github.com/meden/biosync/internal/health"
)

const MaxHeaderBytes = 256 * (1 << 10) // 256 KiB

type HTTP struct {
	srv *http.Server

	cfg      config.Application
	store    *checkpoint.Store
	health   health.Store
	notifier *raven.Client
	logger   zerolog.Logger

	bootTime     time.Time
	requestCount int64
}

// NewHTTP prepares the http service.
func NewHTTP(cfg config.Application, store *checkpoint.Store, hs health.Store, notifier *raven.Client, logger zerolog.Logger) (*HTTP, error) {
	to := cfg.HTTP.Timeout.Std()
	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		ReadTimeout:       to,
		ReadHeaderTimeout: to,
		WriteTimeout:      to,
		IdleTimeout:       to,
		MaxHeaderBytes:    MaxHeaderBytes,
	}

	api := &HTTP{
		srv:      srv,
		cfg:      cfg,
		store:    store,
		health:   hs,
		notifier: notifier,
		logger:   logger,
		bootTime: time.Now(),
	}
	api.setupRoutes()

	return api, nil
}

// Serve connections
func (api *HTTP) Serve() {
	go func() {
		api.logger.Info().Str("listen", api.srv.Addr).Msg("serving http")
		err := api.srv.ListenAndServe()
		if err != nil {
			api.logger.Error().Err(err).Msg("interrupted")
		}
	}()
}

// Shutdown the server
func (api *HTTP) Shutdown(ctx context.Context) error {
	return api.srv.Shutdown(ctx)
}

func asJSON(ctx context.Context, w http.ResponseWriter, obj interface{}, code int) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(obj)
	if err != nil {
		logger := zerolog.Ctx(ctx)
		logger.Error().Err(err).Msg("encoding json")
	}
}
