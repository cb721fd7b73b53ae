package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/plansync/internal/auth"
)

const (
	guestCookie       = "guest_session"
	guestCookieMaxAge = 7 * 24 * 3600
)

// APIHandlers issues the bearer tokens used by the history endpoint and the
// websocket hello.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates the credential handlers.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// Credentials is the body of a register request.
type Credentials struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
}

// AuthResponse carries a token and the identity it resolves to.
type AuthResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Guest     bool      `json:"guest,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register handles POST /api/register.
func (h *APIHandlers) Register(c *gin.Context) {
	var req Credentials
	if !h.bind(c, &req) {
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		return
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		h.internal(c, err, "register")
		return
	}
	h.respond(c, http.StatusCreated, token)
}

// Login handles POST /api/login.
func (h *APIHandlers) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}
	if err != nil {
		h.internal(c, err, "login")
		return
	}
	h.respond(c, http.StatusOK, token)
}

// GuestLogin handles POST /api/guest: a throwaway account tied to a session cookie.
func (h *APIHandlers) GuestLogin(c *gin.Context) {
	token, sessionID, err := h.authService.CreateGuestUser(c.Request.Context())
	if err != nil {
		h.internal(c, err, "guest")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(guestCookie, sessionID, guestCookieMaxAge, "/", "", c.Request.TLS != nil, true)
	h.respond(c, http.StatusOK, token)
}

func (h *APIHandlers) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *APIHandlers) respond(c *gin.Context, status int, token string) {
	identity, err := h.authService.Authenticate(token)
	if err != nil {
		h.internal(c, err, "resolve issued token")
		return
	}
	h.log.Info().
		Str("user_id", identity.UserID).
		Str("username", identity.Username).
		Bool("guest", identity.IsGuest).
		Msg("token issued")
	c.JSON(status, AuthResponse{
		Token:     token,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Guest:     identity.IsGuest,
		ExpiresAt: identity.ExpiresAt,
	})
}

func (h *APIHandlers) internal(c *gin.Context, err error, op string) {
	h.log.Error().Err(err).Str("op", op).Msg("credential request failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
