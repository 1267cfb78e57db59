package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"lendpool/native/bank"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
)

// ErrorBody is the JSON payload written for every failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

const (
	codeUnauthenticated = "Unauthenticated"
	codeForbidden       = "Forbidden"
	codeBadRequest      = "BadRequest"
	codeNotFound        = "NotFound"
	codeRateLimited     = "RateLimited"
	codeModulePaused    = "ModulePaused"
	codeUnavailable     = "Unavailable"
	codeInternal        = "Internal"
)

// translateError maps an engine, custody or host failure onto an HTTP status
// and the body clients switch on.
func translateError(err error) (int, ErrorBody) {
	switch {
	case err == nil:
		return http.StatusOK, ErrorBody{}
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, ErrorBody{Code: codeModulePaused, Class: "paused", Message: "lending is paused"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorBody{Code: codeUnavailable, Class: "unavailable", Message: "request cancelled"}
	}

	code := lending.CodeOf(err)
	class := lending.ClassOf(err)
	if class == lending.ClassInternal || code == "" {
		return http.StatusInternalServerError, ErrorBody{Code: codeInternal, Class: string(lending.ClassInternal), Message: "internal error"}
	}
	body := ErrorBody{Code: code, Class: string(class), Message: err.Error()}
	switch class {
	case lending.ClassInput:
		return http.StatusBadRequest, body
	case lending.ClassConfiguration:
		if errors.Is(err, lending.ErrInvalidPoolConfig) {
			return http.StatusBadRequest, body
		}
		return http.StatusConflict, body
	case lending.ClassPolicy:
		if errors.Is(err, lending.ErrNoLoanToRepay) {
			return http.StatusNotFound, body
		}
		return http.StatusConflict, body
	case lending.ClassInsufficiency, lending.ClassCollateralMismatch:
		return http.StatusUnprocessableEntity, body
	case lending.ClassTransfer:
		if errors.Is(err, bank.ErrUnauthorized) {
			return http.StatusForbidden, body
		}
		return http.StatusUnprocessableEntity, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := translateError(err)
	writeJSON(w, status, body)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Code: code, Class: "request", Message: message})
}
