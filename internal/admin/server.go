// Package admin exposes the engine's HTTP surface: the payment operation
// API under /v1, health, metrics, and a small set of ops actions.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/escrow"
	"github.com/tipforge/payengine/internal/logging"
	"github.com/tipforge/payengine/internal/metrics"
	"github.com/tipforge/payengine/internal/payments"
	"github.com/tipforge/payengine/internal/ratelimit"
	"github.com/tipforge/payengine/internal/storage"
	"github.com/tipforge/payengine/internal/wallet"
)

// Server is the engine's HTTP server.
type Server struct {
	http     *http.Server
	logger   *logging.Logger
	payments *payments.Service
	wallets  *wallet.Service
	limiter  *ratelimit.Limiter
	escrows  *escrow.Manager
}

// New builds the server and its routes.
func New(addr string, svc *payments.Service, wallets *wallet.Service, limiter *ratelimit.Limiter, escrows *escrow.Manager) *Server {
	s := &Server{
		logger:   logging.New("admin"),
		payments: svc,
		wallets:  wallets,
		limiter:  limiter,
		escrows:  escrows,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/v1/pay", s.handlePay).Methods(http.MethodPost)
	r.HandleFunc("/v1/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/v1/escrows", s.handleEscrowCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/escrows/{id}/claim", s.handleEscrowClaim).Methods(http.MethodPost)
	r.HandleFunc("/v1/payments/{id}", s.handlePaymentGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/wallets", s.handleWalletCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/wallets/{owner}", s.handleWalletGet).Methods(http.MethodGet)

	r.HandleFunc("/v1/ratelimit/reset", s.handleRateLimitReset).Methods(http.MethodPost)
	r.HandleFunc("/v1/escrows/sweep", s.handleSweep).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req payments.PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("malformed request body"))
		return
	}
	out, err := s.payments.Pay(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req payments.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("malformed request body"))
		return
	}
	out, err := s.payments.Withdraw(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request) {
	var req payments.EscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("malformed request body"))
		return
	}
	out, err := s.payments.CreateEscrowPayment(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleEscrowClaim(w http.ResponseWriter, r *http.Request) {
	var req payments.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("malformed request body"))
		return
	}
	req.EscrowID = mux.Vars(r)["id"]
	out, err := s.payments.ClaimEscrow(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePaymentGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.ResolvePayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleWalletCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID      string `json:"owner_id"`
		Label        string `json:"label,omitempty"`
		SecretBase58 string `json:"secret,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, errBody("owner_id required"))
		return
	}
	var (
		wlt *wallet.Wallet
		err error
	)
	if req.SecretBase58 != "" {
		wlt, err = s.wallets.Import(r.Context(), req.OwnerID, req.Label, req.SecretBase58)
	} else {
		wlt, err = s.wallets.Create(r.Context(), req.OwnerID, req.Label)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wlt)
}

func (s *Server) handleWalletGet(w http.ResponseWriter, r *http.Request) {
	wlt, err := s.wallets.Active(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wlt)
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Class      string `json:"class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		writeJSON(w, http.StatusBadRequest, errBody("identifier required"))
		return
	}
	s.limiter.Reset(req.Identifier, req.Class)
	s.logger.Info().
		Str("identifier", req.Identifier).
		Str("class", req.Class).
		Msg("rate-limit bucket reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	go s.escrows.Sweep(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}

// writeError maps engine errors onto HTTP statuses. Internal failures are
// logged and returned without detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		verr  *payerr.ValidationError
		funds *payerr.InsufficientFunds
		rej   *payerr.TransferRejected
		sub   *payerr.SubmissionFailed
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errBody(verr.Error()))
	case errors.As(err, &funds):
		writeJSON(w, http.StatusUnprocessableEntity, errBody(funds.Error()))
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, errBody(rej.Error()))
	case errors.Is(err, payerr.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errBody("rate limit exceeded"))
	case errors.Is(err, payerr.ErrEscrowExpired):
		writeJSON(w, http.StatusGone, errBody("escrow has expired"))
	case errors.Is(err, payerr.ErrEscrowAlreadyProcessed),
		errors.Is(err, payerr.ErrPreviousAttemptFailed):
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, payerr.ErrFeeTooLarge):
		writeJSON(w, http.StatusUnprocessableEntity, errBody(err.Error()))
	case errors.Is(err, payerr.ErrIdempotencyTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errBody(err.Error()))
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errBody("not found"))
	case errors.As(err, &sub):
		s.logger.Error().Err(err).Msg("submission failure surfaced")
		writeJSON(w, http.StatusBadGateway, errBody("transaction submission failed"))
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, errBody("internal error"))
	}
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
