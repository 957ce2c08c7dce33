package main

import (
	"net/http"

	"github.com/angeloszaimis/rule-proxy/internal/admin"
)

func setupRouter(api *admin.API) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", api.Routes())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}
