package transport

import (
	"net/http"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// httpStatusByKind maps each ErrorKind to its HTTP status code (spec §7).
var httpStatusByKind = map[model.ErrorKind]int{
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrPaymentRequired:    http.StatusPaymentRequired,
	model.ErrInsufficientFunds:  http.StatusPaymentRequired,
	model.ErrRAVConflict:        http.StatusConflict,
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrServiceUnavailable: http.StatusServiceUnavailable,
	model.ErrInternal:           http.StatusInternalServerError,
}

// HTTPStatusForKind returns the HTTP status code spec §7 assigns to kind,
// defaulting to 500 for an unrecognized kind.
func HTTPStatusForKind(kind model.ErrorKind) int {
	if status, ok := httpStatusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// mcpCodeByKind maps each ErrorKind to its MCP error code (spec §7). Most
// kinds use their own name; RAV_CONFLICT is the one exception, reported as
// "CONFLICT".
var mcpCodeByKind = map[model.ErrorKind]string{
	model.ErrUnauthorized:       "UNAUTHORIZED",
	model.ErrForbidden:          "FORBIDDEN",
	model.ErrPaymentRequired:    "PAYMENT_REQUIRED",
	model.ErrInsufficientFunds:  "INSUFFICIENT_FUNDS",
	model.ErrRAVConflict:        "CONFLICT",
	model.ErrBadRequest:         "BAD_REQUEST",
	model.ErrNotFound:           "NOT_FOUND",
	model.ErrServiceUnavailable: "SERVICE_UNAVAILABLE",
	model.ErrInternal:           "INTERNAL_ERROR",
}

// MCPCodeForKind returns the MCP error code spec §7 assigns to kind,
// defaulting to "INTERNAL_ERROR" for an unrecognized kind.
func MCPCodeForKind(kind model.ErrorKind) string {
	if code, ok := mcpCodeByKind[kind]; ok {
		return code
	}
	return "INTERNAL_ERROR"
}
