package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (api *HTTP) setupRoutes() {
	router := mux.NewRouter()

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middlewareCounter(api), middlewareRequestID(), middlewareLogger(api.logger))
	v1.HandleFunc("/info", api.handleInfo).Methods(http.MethodGet)
	v1.HandleFunc("/devices", api.handleDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/template-state", api.handleTemplateState).Methods(http.MethodGet)

	api.srv.Handler = router
}
