package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Handler serves login and identity endpoints for operators.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login exchanges operator credentials for a JWT.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		log.Warn().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("invalid login request body")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request",
		})
	}

	user, err := h.validateCredentials(req.Email, req.Password)
	if err != nil {
		log.Warn().Str("email", req.Email).Msg("login failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid credentials",
		})
	}

	token, err := h.manager.GenerateToken(*user)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate token")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to generate token",
		})
	}

	log.Info().Str("email", user.Email).Msg("operator logged in")

	return c.JSON(http.StatusOK, LoginResponse{
		Token: token,
		User:  *user,
	})
}

// Me returns the authenticated operator.
func (h *Handler) Me(c echo.Context) error {
	user := GetUserFromContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Unauthorized",
		})
	}

	return c.JSON(http.StatusOK, user)
}

// validateCredentials checks credentials against the AUTH_USERS env var.
// Format: EMAIL:PASSWORD:NAME:ROLES, semicolon-separated users.
// Example: ops@example.com:pass123:Ops:admin
func (h *Handler) validateCredentials(email, password string) (*User, error) {
	usersEnv := os.Getenv("AUTH_USERS")
	if usersEnv == "" {
		// Default admin user for development
		usersEnv = "admin@example.com:admin:Administrator:admin"
	}

	users := strings.Split(usersEnv, ";")
	for _, userStr := range users {
		parts := strings.Split(userStr, ":")
		if len(parts) < 4 {
			continue
		}

		userEmail := parts[0]
		userPassword := parts[1]
		userName := parts[2]
		rolesStr := parts[3]

		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(email), []byte(userEmail)) == 1 &&
			subtle.ConstantTimeCompare([]byte(password), []byte(userPassword)) == 1 {

			return &User{
				ID:    strings.ReplaceAll(email, "@", "-"),
				Email: email,
				Name:  userName,
				Roles: strings.Split(rolesStr, ","),
			}, nil
		}
	}

	return nil, ErrInvalidCredentials
}

var ErrInvalidCredentials = &AuthError{"Invalid credentials"}

type AuthError struct {
	message string
}

func (e *AuthError) Error() string {
	return e.message
}
