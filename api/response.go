package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"gigflow/auth"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/fault"
	"gigflow/job"
	"gigflow/proposal"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

func respondJSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func respondCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func respondCollection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func respondError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// respondFault maps the service error taxonomy onto HTTP statuses.
func respondFault(w http.ResponseWriter, err error) {
	var (
		vErr     *fault.ValidationError
		authErr  *fault.AuthorizationError
		stateErr *fault.InvalidStateError
		conflict *fault.ConflictError
		payErr   *fault.PaymentError
	)
	switch {
	case errors.As(err, &vErr):
		respondError(w, http.StatusBadRequest, "VALIDATION", vErr.Reason,
			map[string]string{"field": vErr.Field})
	case errors.As(err, &authErr):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "not allowed to perform this action", nil)
	case errors.As(err, &stateErr):
		respondError(w, http.StatusConflict, "INVALID_STATE", stateErr.Error(), nil)
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, "CONFLICT", conflict.Error(), nil)
	case errors.As(err, &payErr):
		status := http.StatusBadGateway
		code := "PAYMENT_FAILED"
		if payErr.Retriable {
			status = http.StatusServiceUnavailable
			code = "PAYMENT_RETRIABLE"
		}
		respondError(w, status, code, "settlement failed, escrow state unchanged", nil)
	case errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, proposal.ErrProposalNotFound),
		errors.Is(err, escrow.ErrEscrowNotFound),
		errors.Is(err, dispute.ErrDisputeNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, auth.ErrDuplicateEmail):
		respondError(w, http.StatusConflict, "CONFLICT", "email already registered", nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
