package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/toolgate-io/toolgate/internal/gateway"
)

// ToolsHandler serves tool discovery and upstream reachability.
type ToolsHandler struct {
	manager *gateway.SecureManager
}

func NewToolsHandler(manager *gateway.SecureManager) *ToolsHandler {
	return &ToolsHandler{manager: manager}
}

// ListTools returns every tool across configured servers annotated with its
// permission status. Listing never invokes tools.
func (h *ToolsHandler) ListTools(c echo.Context) error {
	tools, err := h.manager.ListToolsWithPermissions(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("tool listing failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list tools",
		})
	}

	byServer := make(map[string][]gateway.AnnotatedTool)
	allowed := 0
	for _, tool := range tools {
		byServer[tool.ServerName] = append(byServer[tool.ServerName], tool)
		if tool.Allowed {
			allowed++
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools":         tools,
		"toolsByServer": byServer,
		"totalTools":    len(tools),
		"allowedTools":  allowed,
	})
}

// Status probes each configured server.
func (h *ToolsHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"initialized": true,
		"servers":     h.manager.Status(c.Request().Context()),
	})
}
