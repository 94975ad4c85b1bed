// Package auth protects the gateway's operator endpoints with JWT bearer
// tokens. Tool-call traffic itself is mediated by policy, not by auth; this
// package only gates who may read audit logs and flip reliability switches.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Operator roles. Admins may mutate consent and reliability state; viewers
// may only read.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// User is an authenticated operator.
type User struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
	IssuedAt int64    `json:"iat"`
}

// Claims carries the operator inside the JWT.
type Claims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

// Config holds auth settings. When RequireAuth is false every endpoint is
// open; the middleware becomes a pass-through.
type Config struct {
	JWTSecret       string
	TokenExpiration time.Duration
	RequireAuth     bool
}

// Manager signs and validates operator tokens.
type Manager struct {
	config Config
	secret []byte
}

func NewManager(config Config) *Manager {
	secret := config.JWTSecret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		// Generate random secret (dev only)
		b := make([]byte, 32)
		rand.Read(b)
		secret = base64.StdEncoding.EncodeToString(b)
		log.Warn().Msg("using generated JWT secret, set JWT_SECRET for production")
	}

	return &Manager{
		config: config,
		secret: []byte(secret),
	}
}

// publicPaths are reachable without a token even when auth is required.
var publicPaths = map[string]bool{
	"/":       true,
	"/health": true,
	"/login":  true,
}

// Middleware returns Echo middleware that validates the bearer token and
// stores the operator in the request context.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			if publicPaths[c.Path()] {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(401, map[string]string{
					"error": "Missing authorization header",
				})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(401, map[string]string{
					"error": "Invalid authorization header format",
				})
			}

			user, err := m.ValidateToken(parts[1])
			if err != nil {
				return c.JSON(401, map[string]string{
					"error": fmt.Sprintf("Invalid token: %v", err),
				})
			}

			c.Set("user", user)
			return next(c)
		}
	}
}

// RequireRole returns middleware that admits only operators holding role.
// A no-op while auth is disabled.
func (m *Manager) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			user := GetUserFromContext(c)
			if user == nil {
				return c.JSON(401, map[string]string{
					"error": "Authentication required",
				})
			}

			for _, userRole := range user.Roles {
				if userRole == role {
					return next(c)
				}
			}

			return c.JSON(403, map[string]string{
				"error": fmt.Sprintf("Role '%s' required", role),
			})
		}
	}
}

// GenerateToken creates a signed JWT for user.
func (m *Manager) GenerateToken(user User) (string, error) {
	expiresAt := time.Now().Add(m.config.TokenExpiration)
	if m.config.TokenExpiration == 0 {
		expiresAt = time.Now().Add(24 * time.Hour)
	}

	claims := &Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "toolgate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken verifies a JWT and returns the operator it carries.
func (m *Manager) ValidateToken(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &claims.User, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// GetUserFromContext extracts the operator from the Echo context.
func GetUserFromContext(c echo.Context) *User {
	if user, ok := c.Get("user").(*User); ok {
		return user
	}
	return nil
}
