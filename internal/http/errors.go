package httpx

import (
	"net/http"

	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// WriteAppError writes an error response with the status implied by the
// error's classification. Unclassified errors are reported as 500 without
// leaking internals beyond the message.
func WriteAppError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	errCode := "internal"

	switch {
	case apperrors.IsNotFound(err):
		code, errCode = http.StatusNotFound, "not_found"
	case apperrors.IsConflict(err):
		code, errCode = http.StatusConflict, "conflict"
	case apperrors.IsValidation(err):
		code, errCode = http.StatusBadRequest, "validation"
	case apperrors.IsRateLimited(err):
		code, errCode = http.StatusTooManyRequests, "rate_limited"
	case apperrors.IsTimeout(err):
		code, errCode = http.StatusGatewayTimeout, "timeout"
	case apperrors.IsUnavailable(err):
		code, errCode = http.StatusServiceUnavailable, "unavailable"
	}

	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
