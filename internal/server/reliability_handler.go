package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/toolgate-io/toolgate/internal/gateway"
)

// ReliabilityHandler exposes breaker, gate, and cache state, plus manual
// recovery actions for operators.
type ReliabilityHandler struct {
	reg *gateway.Registries
}

func NewReliabilityHandler(reg *gateway.Registries) *ReliabilityHandler {
	return &ReliabilityHandler{reg: reg}
}

func (h *ReliabilityHandler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"circuitBreakers": h.reg.Breakers.Stats(),
		"concurrency":     h.reg.Gates.Stats(),
		"caches":          h.reg.Caches.Stats(),
		"timestamp":       time.Now().UTC(),
	})
}

type reliabilityAction struct {
	Action string `json:"action"`
	// Target is a server name; empty applies to every target.
	Target string `json:"target,omitempty"`
}

func (h *ReliabilityHandler) HandleAction(c echo.Context) error {
	var req reliabilityAction
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	switch req.Action {
	case "reset-circuit-breaker":
		h.reg.Breakers.Reset(req.Target)
	case "clear-cache":
		h.reg.Caches.Clear(req.Target)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "action must be reset-circuit-breaker or clear-cache",
		})
	}

	log.Info().Str("action", req.Action).Str("target", req.Target).Msg("reliability action applied")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": req.Action + " applied",
	})
}
