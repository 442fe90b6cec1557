// Package api is the HTTP admission adapter. It is a thin layer over the
// registrar: decode the request, invoke the core operation, serialize the
// result. Internal failures become 500 with a plain-text body.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/custodia/walletd/walletd/registrar"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "api")

// Core is the slice of registrar operations the adapter exposes.
type Core interface {
	Register(ctx context.Context, registrationID, webhookURL string) (*registrar.RegisterResult, error)
	VerifyTransfer(ctx context.Context, req *registrar.VerifyTransferRequest) *registrar.VerifyTransferResponse
	Cursor(ctx context.Context) (uint64, error)
	SetCursor(ctx context.Context, blockNumber uint64) error
}

// Service serves the admission API on the configured address.
type Service struct {
	core       Core
	server     *http.Server
	failStatus error
}

// NewService wires the routes and binds the server to addr.
func NewService(addr string, core Core) *Service {
	s := &Service{core: core}
	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/register", s.registerHandler).Methods(http.MethodPost)
	router.HandleFunc("/verify_transfer", s.verifyTransferHandler).Methods(http.MethodPost)
	router.HandleFunc("/block_number", s.getBlockNumberHandler).Methods(http.MethodGet)
	router.HandleFunc("/block_number", s.setBlockNumberHandler).Methods(http.MethodPost)
	s.server = &http.Server{Addr: addr, Handler: router}
	return s
}

// Router exposes the handler for tests.
func (s *Service) Router() http.Handler {
	return s.server.Handler
}

// Start begins serving requests.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting admission API")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("Could not listen on %s", s.server.Addr)
			s.failStatus = err
		}
	}()
}

// Stop shuts the server down, letting in-flight requests drain briefly.
func (s *Service) Stop() error {
	log.Info("Stopping admission API")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports a listener failure, if one occurred.
func (s *Service) Status() error {
	return s.failStatus
}

func (s *Service) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.WithError(err).Error("Could not write health response")
	}
}

type registerRequest struct {
	ID         string `json:"id"`
	WebhookURL string `json:"webhook_url"`
}

func (s *Service) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.WebhookURL == "" {
		http.Error(w, "id and webhook_url are required", http.StatusBadRequest)
		return
	}
	result, err := s.core.Register(r.Context(), req.ID, req.WebhookURL)
	if err != nil {
		log.WithError(err).WithField("account", req.ID).Error("Registration failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (s *Service) verifyTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req registrar.VerifyTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.core.VerifyTransfer(r.Context(), &req))
}

type blockNumberBody struct {
	BlockNumber uint64 `json:"block_number"`
}

func (s *Service) getBlockNumberHandler(w http.ResponseWriter, r *http.Request) {
	cursor, err := s.core.Cursor(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, &blockNumberBody{BlockNumber: cursor})
}

func (s *Service) setBlockNumberHandler(w http.ResponseWriter, r *http.Request) {
	var req blockNumberBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.core.SetCursor(r.Context(), req.BlockNumber); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, &blockNumberBody{BlockNumber: req.BlockNumber})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Error("Could not write response body")
	}
}
