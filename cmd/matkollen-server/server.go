package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/services/grocery"
)

func RegisterRoutes(mux *http.ServeMux, service grocery.Service) {
	mux.HandleFunc("POST /grocery/login", handleLogin(service))
	mux.HandleFunc("POST /grocery/receipts/fetch", handleFetch(service))
	mux.HandleFunc("POST /grocery/receipts/sync", handleSync(service))
	mux.HandleFunc("GET /grocery/session/probe", handleProbe(service))
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, willys.ErrSessionMissing) {
		status = http.StatusUnauthorized
	}
	writeJson(w, status, map[string]string{"error": err.Error()})
}

type loginRequest struct {
	Identity  string `json:"identity"`
	Headless  bool   `json:"headless"`
	TimeoutMs int    `json:"timeout_ms"`
}

// handleLogin streams login events over server-sent events, one json
// event per message, ending with the terminal done or error event.
func handleLogin(service grocery.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			writeJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJson(w, http.StatusInternalServerError,
				map[string]string{"error": "streaming unsupported"})
			return
		}

		stream := service.StartLogin(r.Context(), willys.LoginRequest{
			Identity: req.Identity,
			Headless: req.Headless,
			Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
		})

		w.Header().Set("content-type", "text/event-stream")
		w.Header().Set("cache-control", "no-cache")
		w.WriteHeader(http.StatusOK)

		encoder := json.NewEncoder(w)
		for event := range stream.Events() {
			w.Write([]byte("data: "))
			err := encoder.Encode(event)
			if err != nil {
				slog.WarnContext(r.Context(), "login event stream broken", "err", err)
				return
			}
			w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

type fetchRequest struct {
	grocery.FetchRequest
	WithContent bool `json:"with_content"`
}

func handleFetch(service grocery.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fetchRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			writeJson(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		var result grocery.FetchResult
		if req.WithContent {
			result, err = service.FetchReceiptsWithContent(r.Context(), req.FetchRequest)
		} else {
			result, err = service.FetchReceipts(r.Context(), req.FetchRequest)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJson(w, http.StatusOK, result)
	}
}

func handleSync(service grocery.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := service.SyncAll(r.Context())
		writeJson(w, http.StatusOK, report)
	}
}

func handleProbe(service grocery.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.URL.Query().Get("identity")
		if identity == "" {
			writeJson(w, http.StatusBadRequest,
				map[string]string{"error": "identity query parameter is required"})
			return
		}

		profile, err := service.ProbeSession(r.Context(), identity)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJson(w, http.StatusOK, profile)
	}
}
