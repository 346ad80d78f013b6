package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"tokenvesting/native/vesting"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var codeStatus = map[string]int{
	"DuplicateSchedule":       http.StatusConflict,
	"DuplicateGrant":          http.StatusConflict,
	"AssetExists":             http.StatusConflict,
	"AccountExists":           http.StatusConflict,
	"Conflict":                http.StatusConflict,
	"Unauthorized":            http.StatusForbidden,
	"AuthorizationFailed":     http.StatusForbidden,
	"AccountMismatch":         http.StatusBadRequest,
	"AssetMismatch":           http.StatusBadRequest,
	"InvalidTotalVestingTime": http.StatusBadRequest,
	"CompanyNameTooLong":      http.StatusBadRequest,
	"InvalidAsset":            http.StatusBadRequest,
	"InvalidAmount":           http.StatusBadRequest,
	"SelfTransfer":            http.StatusBadRequest,
	"CalculationOverflow":     http.StatusUnprocessableEntity,
	"BalanceOverflow":         http.StatusUnprocessableEntity,
	"NoTokensToClaim":         http.StatusUnprocessableEntity,
	"ClaimNotAvailableYet":    http.StatusUnprocessableEntity,
	"InsufficientFunds":       http.StatusPaymentRequired,
	"ScheduleNotFound":        http.StatusNotFound,
	"GrantNotFound":           http.StatusNotFound,
	"AccountNotFound":         http.StatusNotFound,
	"AssetNotFound":           http.StatusNotFound,
}

// statusFor maps a ledger error onto its HTTP status and taxonomy code.
// Envelope failures are reported as 401.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMalformedEnvelope):
		return http.StatusBadRequest, "MalformedRequest"
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized, "InvalidSignature"
	case errors.Is(err, ErrStaleRequest):
		return http.StatusUnauthorized, "StaleRequest"
	case errors.Is(err, ErrReplayedRequest):
		return http.StatusConflict, "ReplayedRequest"
	}
	code := vesting.Code(err)
	if status, ok := codeStatus[code]; ok {
		return status, code
	}
	return http.StatusInternalServerError, "Internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: "MalformedRequest", Message: message})
}
