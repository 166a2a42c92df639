package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/orchestrator"
)

// maxBodySize is the maximum allowed request body size (64KB).
const maxBodySize = 64 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ClaimService is the part of the orchestrator the API drives.
type ClaimService interface {
	Start(req orchestrator.ClaimRequest) (orchestrator.IntentView, error)
	Get(id string) (orchestrator.IntentView, bool)
	Cancel(id string) error
	Active() []orchestrator.IntentView
}

// Handler serves the name lookup and claim endpoints.
type Handler struct {
	registrar interfaces.RegistrarReader
	claims    ClaimService
	// defaultOwner is used for claims that do not name an owner.
	defaultOwner interfaces.OwnerID
	log          *slog.Logger
}

// NewHandler creates a handler. claims may be nil, in which case the claim
// endpoints answer 503.
func NewHandler(registrar interfaces.RegistrarReader, claims ClaimService, defaultOwner interfaces.OwnerID, log *slog.Logger) *Handler {
	return &Handler{
		registrar:    registrar,
		claims:       claims,
		defaultOwner: defaultOwner,
		log:          log,
	}
}

// NameResponse describes a name at the latest block.
type NameResponse struct {
	Name     string                 `json:"name"`
	Status   interfaces.StatusKind  `json:"status"`
	Expiry   *interfaces.LedgerTime `json:"expiry,omitempty"`
	Duration interfaces.LedgerSpan  `json:"duration,omitempty"`
	Price    *big.Int               `json:"price,omitempty"`
}

// ClaimRequest is the body of POST /api/claims.
type ClaimRequest struct {
	Name     string                `json:"name"`
	Owner    *interfaces.OwnerID   `json:"owner,omitempty"`
	Duration interfaces.LedgerSpan `json:"duration"`
}

// HandleName resolves the status of a name and, when a duration is given,
// quotes its price.
//
// URL format: GET /api/names/{name}?duration=N
func (h *Handler) HandleName(w http.ResponseWriter, r *http.Request) {
	name, err := interfaces.NewName(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var duration interfaces.LedgerSpan
	if raw := r.URL.Query().Get("duration"); raw != "" {
		d, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || d == 0 {
			h.writeError(w, &interfaces.ValidationError{Field: "duration", Reason: "must be a positive integer"})
			return
		}
		duration = interfaces.LedgerSpan(d)
	}

	status, err := h.registrar.Status(r.Context(), name)
	if err != nil {
		h.log.Error("Failed to resolve name status", "name", name.String(), "err", err)
		h.writeError(w, err)
		return
	}

	resp := NameResponse{
		Name:   name.String(),
		Status: status.Kind,
		Expiry: status.Expiry,
	}
	if duration > 0 {
		price, err := h.registrar.Price(r.Context(), name, duration, nil)
		if err != nil {
			h.log.Error("Failed to quote price", "name", name.String(), "err", err)
			h.writeError(w, err)
			return
		}
		resp.Duration = duration
		resp.Price = price
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleCreateClaim starts a background commit and register for a name.
//
// URL format: POST /api/claims
// Response: 202 with the new intent.
func (h *Handler) HandleCreateClaim(w http.ResponseWriter, r *http.Request) {
	if h.claims == nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("claims are disabled")})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("failed to read request body")})
		return
	}
	var req ClaimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("invalid JSON body")})
		return
	}

	name, err := interfaces.NewName(req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	owner := h.defaultOwner
	if req.Owner != nil {
		owner = *req.Owner
	}

	view, err := h.claims.Start(orchestrator.ClaimRequest{Name: name, Owner: owner, Duration: req.Duration})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("Claim started", "intent", view.ID, "name", name.String())
	h.writeJSON(w, http.StatusAccepted, view)
}

// HandleListClaims returns the intents still in flight.
//
// URL format: GET /api/claims
func (h *Handler) HandleListClaims(w http.ResponseWriter, r *http.Request) {
	if h.claims == nil {
		h.writeJSON(w, http.StatusOK, []orchestrator.IntentView{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.claims.Active())
}

// HandleGetClaim returns one intent.
//
// URL format: GET /api/claims/{id}
func (h *Handler) HandleGetClaim(w http.ResponseWriter, r *http.Request) {
	if h.claims == nil {
		h.writeError(w, orchestrator.ErrUnknownIntent)
		return
	}
	view, ok := h.claims.Get(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, orchestrator.ErrUnknownIntent)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleCancelClaim cancels an intent. Nothing is submitted after it returns.
//
// URL format: DELETE /api/claims/{id}
func (h *Handler) HandleCancelClaim(w http.ResponseWriter, r *http.Request) {
	if h.claims == nil {
		h.writeError(w, orchestrator.ErrUnknownIntent)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.claims.Cancel(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("Claim cancelled", "intent", id)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "id": id})
}

// statusFor maps the client's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	var validation *interfaces.ValidationError
	var query *interfaces.QueryError
	var timing *interfaces.TimingViolation
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrBusy), errors.Is(err, orchestrator.ErrIntentFinished):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrUnknownIntent):
		return http.StatusNotFound
	case errors.As(err, &timing):
		return http.StatusConflict
	case errors.As(err, &query):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
