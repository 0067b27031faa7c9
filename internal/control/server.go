package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/staging"
)

// Server exposes the staging session API, the metadata proxy, and
// health/metrics endpoints.
type Server struct {
	svc    *Service
	server *http.Server
}

// NewServer creates the HTTP server for a service.
func NewServer(svc *Service, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc: svc,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("PUT /sessions/{id}/amount", s.handleSetAmount)
	mux.HandleFunc("POST /sessions/{id}/options", s.handleSetOptions)
	mux.HandleFunc("POST /sessions/{id}/validate", s.handleValidate)
	mux.HandleFunc("POST /sessions/{id}/confirmations", s.handleBuildConfirmations)
	mux.HandleFunc("POST /sessions/{id}/execute", s.handleExecute)
	mux.HandleFunc("GET /audits", s.handleListAudits)
	mux.HandleFunc("GET /metadata/{address}", s.handleFetchMetadata)
	mux.HandleFunc("PUT /metadata/{address}", s.handlePutMetadata)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type createSessionRequest struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Asset       domain.Currency `json:"asset"`
}

type sessionResponse struct {
	ID          string                    `json:"id"`
	Source      string                    `json:"source"`
	Destination string                    `json:"destination"`
	Transaction domain.PendingTransaction `json:"transaction"`
}

func sessionView(sess *staging.Session, ptx domain.PendingTransaction) sessionResponse {
	return sessionResponse{
		ID:          sess.ID,
		Source:      sess.Source,
		Destination: sess.Destination,
		Transaction: ptx,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	sess, err := s.svc.OpenSession(r.Context(), req.Source, req.Destination, req.Asset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(sess, sess.Snapshot()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess, sess.Snapshot()))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.svc.CloseSession(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAmount(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	var amount domain.Money
	if err := json.NewDecoder(r.Body).Decode(&amount); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount: %w", err))
		return
	}

	ptx, err := sess.SetAmount(r.Context(), amount)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess, ptx))
}

type optionsRequest struct {
	TermsAccepted     bool `json:"terms_accepted"`
	AgreementAccepted bool `json:"agreement_accepted"`
}

func (s *Server) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	ptx := sess.SetOptions(req.TermsAccepted, req.AgreementAccepted)
	writeJSON(w, http.StatusOK, sessionView(sess, ptx))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	ptx, err := sess.Validate(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess, ptx))
}

func (s *Server) handleBuildConfirmations(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	ptx, err := sess.BuildConfirmations(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(sess, ptx))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.ExecuteSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	limit := 50
	records, err := s.svc.ListAudits(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFetchMetadata(w http.ResponseWriter, r *http.Request) {
	payload, err := s.svc.FetchMetadata(r.Context(), r.PathValue("address"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handlePutMetadata(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if err := s.svc.PutMetadata(r.Context(), r.PathValue("address"), body); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.svc.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == HealthCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.svc.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeFailure maps domain and infrastructure errors onto HTTP codes.
// Validation failures are client-visible states; network exhaustion
// from an upstream maps to a bad gateway.
func writeFailure(w http.ResponseWriter, err error) {
	if vf, ok := domain.AsValidationFailure(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": vf.Error(),
			"state": string(vf.State),
		})
		return
	}
	switch {
	case errors.Is(err, staging.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, staging.ErrStageOrder):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, staging.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrSubmissionInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrCurrencyMismatch):
		writeError(w, http.StatusBadRequest, err)
	default:
		if _, ok := domain.AsNetworkError(err); ok {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
	}
}
