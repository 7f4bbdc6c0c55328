package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/meden/biosync"
	"github.com/meden/biosync/internal/bcontext"
	"github.com/meden/biosync/internal/health"
	"github.com/meden/biosync/internal/model"
)

type infoResponse struct {
	Revision     string  `json:"revision"`
	Branch       string  `json:"branch"`
	BootTime     string  `json:"boot_time"`
	Uptime       float64 `json:"uptime"`
	RequestCount int     `json:"request_count"`
}

func (api *HTTP) handleInfo(w http.ResponseWriter, r *http.Request) {
	asJSON(r.Context(), w, &infoResponse{
		Revision:     biosync.Revision,
		Branch:       biosync.Branch,
		BootTime:     api.bootTime.String(),
		Uptime:       time.Since(api.bootTime).Seconds(),
		RequestCount: int(atomic.LoadInt64(&api.requestCount)),
	}, http.StatusOK)
}

type deviceResponse struct {
	ID         string         `json:"device_id"`
	IP         string         `json:"ip"`
	Direction  string         `json:"punch_direction,omitempty"`
	LastPullAt *time.Time     `json:"last_pull_at,omitempty"`
	LastPushAt *time.Time     `json:"last_push_at,omitempty"`
	HasBuffer  bool           `json:"has_undelivered_buffer"`
	Health     *health.Device `json:"health,omitempty"`
}

func (api *HTTP) handleDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byID := make(map[string]*health.Device)
	for _, d := range api.health.GetDevices() {
		byID[d.ID] = d
	}

	devices := make([]deviceResponse, 0, len(api.cfg.Devices))
	for _, dev := range api.cfg.Devices {
		cp, err := api.store.Device(dev.ID)
		if err != nil {
			api.serveError(ctx, w, r, err)
			return
		}

		devices = append(devices, deviceResponse{
			ID:         dev.ID,
			IP:         dev.IP,
			Direction:  string(dev.Direction),
			LastPullAt: cp.LastPullAt,
			LastPushAt: cp.LastPushAt,
			HasBuffer:  api.store.HasBuffer(dev.ID),
			Health:     byID[dev.ID],
		})
	}

	asJSON(ctx, w, devices, http.StatusOK)
}

func (api *HTTP) handleTemplateState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var known bool
	for _, dev := range api.cfg.Devices {
		if dev.ID == id {
			known = true
			break
		}
	}

	if !known {
		api.serveError(ctx, w, r, model.ServiceError{
			Message:   "unknown device",
			RequestID: bcontext.RequestID(ctx),
			Code:      http.StatusNotFound,
		})
		return
	}

	state, err := api.store.TemplateDevice(id)
	if err != nil {
		api.serveError(ctx, w, r, err)
		return
	}

	asJSON(ctx, w, state, http.StatusOK)
}

func (api *HTTP) serveError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(ctx)
	rid := bcontext.RequestID(ctx)

	var responseError model.ServiceError
	switch terr := err.(type) {
	case model.ServiceError:
		responseError = terr
		if terr.Code == 0 {
			responseError.Code = http.StatusInternalServerError
		}
	default:
		responseError.Code = http.StatusInternalServerError
		responseError.Message = err.Error()
		responseError.RequestID = rid
	}

	logger.Error().Err(responseError).Msg("captured error")

	if api.notifier != nil && responseError.Code >= http.StatusInternalServerError {
		api.notifier.CaptureError(err, nil, raven.NewHttp(r))
	}

	asJSON(ctx, w, responseError, responseError.Code)
}
