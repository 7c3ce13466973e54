package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/proto"
)

// statusFor maps a backend error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case backend.ErrCodeUnknownCollection, backend.ErrCodeNotFound:
		return http.StatusNotFound
	case backend.ErrCodeInvalidRecord, backend.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case backend.ErrCodeUnsupported:
		return http.StatusMethodNotAllowed
	case backend.ErrCodeForbidden:
		return http.StatusForbidden
	case backend.ErrCodeConflict:
		return http.StatusConflict
	case backend.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse. Internal errors are logged
// and their details withheld.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	code := authCode(err)
	if code == "" {
		code = backend.Code(err)
	}
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, proto.ErrorResponse{Error: "internal server error", Code: code})
		return
	}
	c.JSON(status, proto.ErrorResponse{Error: err.Error(), Code: code})
}

func authCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return backend.ErrCodeUnauthorized
	case errors.Is(err, auth.ErrUserExists):
		return backend.ErrCodeConflict
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidPassword), errors.Is(err, auth.ErrInvalidName):
		return backend.ErrCodeInvalidRecord
	}
	return ""
}
