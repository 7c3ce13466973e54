package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/backend/local"
	"github.com/vovakirdan/deploydeck/internal/proto"
)

// APIHandlers provides HTTP handlers for the auth endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// SignUp handles account creation.
// POST /api/auth/signup
func (h *APIHandlers) SignUp(c *gin.Context) {
	var req proto.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid sign-up request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body", Code: backend.ErrCodeInvalidRecord})
		return
	}

	sess, err := h.authService.SignUp(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("user_id", sess.Profile.ID).Str("role", string(sess.Profile.Role)).Msg("user signed up")
	c.JSON(http.StatusCreated, proto.AuthResponse{Token: sess.Token, User: local.ProfileRecord(sess.Profile)})
}

// SignIn handles password sign-in.
// POST /api/auth/signin
func (h *APIHandlers) SignIn(c *gin.Context) {
	var req proto.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid sign-in request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body", Code: backend.ErrCodeInvalidRecord})
		return
	}

	sess, err := h.authService.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("user_id", sess.Profile.ID).Msg("user signed in")
	c.JSON(http.StatusOK, proto.AuthResponse{Token: sess.Token, User: local.ProfileRecord(sess.Profile)})
}
