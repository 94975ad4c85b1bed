package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/toolgate-io/toolgate/internal/policy"
)

// PermissionsHandler exposes the active policy table and consent grants.
type PermissionsHandler struct {
	checker *policy.Checker
}

func NewPermissionsHandler(checker *policy.Checker) *PermissionsHandler {
	return &PermissionsHandler{checker: checker}
}

func (h *PermissionsHandler) GetPermissions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"policies": h.checker.Policies(),
		"consents": h.checker.Consent().Records(),
	})
}

type consentRequest struct {
	Action     string `json:"action"`
	ServerName string `json:"serverName"`
	ToolName   string `json:"toolName"`
	SessionID  string `json:"sessionId,omitempty"`
}

// UpdateConsent grants or revokes a consent record, or clears all of them.
func (h *PermissionsHandler) UpdateConsent(c echo.Context) error {
	var req consentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	consent := h.checker.Consent()

	switch req.Action {
	case "grant", "revoke":
		if req.ServerName == "" || req.ToolName == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "serverName and toolName are required",
			})
		}
		if req.Action == "grant" {
			consent.Grant(req.ServerName, req.ToolName, req.SessionID)
		} else {
			consent.Revoke(req.ServerName, req.ToolName, req.SessionID)
		}

	case "clear":
		consent.Clear()

	default:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "action must be grant, revoke, or clear",
		})
	}

	log.Info().
		Str("action", req.Action).
		Str("server", req.ServerName).
		Str("tool", req.ToolName).
		Msg("consent updated")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "consent " + req.Action + " applied",
		"consents": consent.Records(),
	})
}
