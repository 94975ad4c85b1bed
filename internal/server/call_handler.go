package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/toolgate-io/toolgate/internal/audit"
	"github.com/toolgate-io/toolgate/internal/gateway"
	"github.com/toolgate-io/toolgate/internal/policy"
)

// CallHandler mediates tool calls and writes one audit record per call,
// whatever the outcome.
type CallHandler struct {
	manager *gateway.SecureManager
	store   audit.Store
}

func NewCallHandler(manager *gateway.SecureManager, store audit.Store) *CallHandler {
	return &CallHandler{manager: manager, store: store}
}

type CallResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"callId"`
	gateway.CallResult
}

func (h *CallHandler) HandleCall(c echo.Context) error {
	var req policy.CheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.ServerName == "" || req.ToolName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "serverName and toolName are required",
		})
	}

	callID := uuid.New().String()
	start := time.Now()

	result, err := h.manager.CallTool(c.Request().Context(), req)
	h.audit(c, callID, req, result, err, time.Since(start))

	if err != nil {
		return h.writeError(c, result, err)
	}

	return c.JSON(http.StatusOK, CallResponse{Success: true, CallID: callID, CallResult: *result})
}

func (h *CallHandler) writeError(c echo.Context, result *gateway.CallResult, err error) error {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		log.Error().Err(err).Msg("unclassified gateway error")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}

	body := echo.Map{
		"success":   false,
		"code":      ge.Code,
		"error":     ge.UserMessage,
		"retryable": ge.IsRetryable,
	}
	if ge.RetryAfter > 0 {
		body["retryAfter"] = ge.RetryAfter.Milliseconds()
	}
	if result != nil && (ge.Code == gateway.CodePermissionDenied || ge.Code == gateway.CodeConsentRequired) {
		body["permissionCheck"] = result.PermissionCheck
	}

	return c.JSON(statusForCode(ge.Code), body)
}

func statusForCode(code gateway.ErrorCode) int {
	switch code {
	case gateway.CodePermissionDenied, gateway.CodeConsentRequired:
		return http.StatusForbidden
	case gateway.CodeToolValidation:
		return http.StatusBadRequest
	case gateway.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case gateway.CodeTimeout:
		return http.StatusGatewayTimeout
	case gateway.CodeTransientTool:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// audit records the call outcome. A write failure is logged, never surfaced;
// the caller already has their result.
func (h *CallHandler) audit(c echo.Context, callID string, req policy.CheckRequest, result *gateway.CallResult, callErr error, elapsed time.Duration) {
	// Redaction can cut through JSON structure; re-wrap as a string so the
	// store's JSON validation still holds.
	input := h.manager.Redactor().RedactBytes(req.Arguments)
	if len(input) > 0 && !json.Valid(input) {
		input, _ = json.Marshal(string(input))
	}

	rec := audit.Record{
		CallID:     callID,
		ServerName: req.ServerName,
		ToolName:   req.ToolName,
		Input:      input,
		DurationMS: elapsed.Milliseconds(),
	}

	switch {
	case callErr == nil:
		rec.Decision = audit.DecisionAllow
		rec.Reason = "policy allows"
		rec.Cached = result.Cached
	default:
		var ge *gateway.Error
		if errors.As(callErr, &ge) &&
			(ge.Code == gateway.CodePermissionDenied || ge.Code == gateway.CodeConsentRequired) {
			rec.Decision = audit.DecisionDeny
		} else {
			rec.Decision = audit.DecisionError
		}
		rec.Reason = callErr.Error()
	}

	if err := h.store.Log(c.Request().Context(), rec); err != nil {
		log.Error().Err(err).Str("call_id", callID).Msg("audit write failed")
	}
}
