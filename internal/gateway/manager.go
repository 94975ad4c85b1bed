// Package gateway composes policy and reliability around one entry point,
// SecureManager.CallTool. Control flow: permission check → cache read →
// concurrency slot → circuit breaker gate → retry(timeout(invoke)) →
// breaker report → cache store → redact → response.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolgate-io/toolgate/internal/policy"
	"github.com/toolgate-io/toolgate/internal/redact"
	"github.com/toolgate-io/toolgate/internal/reliability"
)

// Registries bundles the process-wide mutable state. Constructed once at
// startup and passed by reference; never an ambient singleton.
type Registries struct {
	Breakers *reliability.BreakerRegistry
	Gates    *reliability.GateRegistry
	Caches   *reliability.CacheRegistry
}

type ManagerConfig struct {
	CallTimeout time.Duration
	Retry       reliability.RetryPolicy
}

// SecureManager mediates every tool call from the application boundary.
type SecureManager struct {
	checker  *policy.Checker
	executor ToolExecutor
	redactor *redact.Redactor
	reg      *Registries
	cfg      ManagerConfig
}

func NewSecureManager(checker *policy.Checker, executor ToolExecutor, redactor *redact.Redactor, reg *Registries, cfg ManagerConfig) *SecureManager {
	return &SecureManager{
		checker:  checker,
		executor: executor,
		redactor: redactor,
		reg:      reg,
		cfg:      cfg,
	}
}

// CallResult is a successful mediation outcome.
type CallResult struct {
	Result          json.RawMessage    `json:"result"`
	Cached          bool               `json:"cached"`
	PermissionCheck policy.CheckResult `json:"permissionCheck"`
}

// CallTool mediates one tool call. A denied or consent-pending call returns
// the permission result and a typed error with no downstream effect: no
// breaker, gate, or cache state is touched.
func (m *SecureManager) CallTool(ctx context.Context, req policy.CheckRequest) (*CallResult, error) {
	perm := m.checker.Check(req)
	if !perm.Allowed {
		if perm.ConsentRequired {
			return &CallResult{PermissionCheck: perm}, consentRequired()
		}
		return &CallResult{PermissionCheck: perm}, permissionDenied(perm.Reason)
	}

	// Explicit consent on an allowed call persists, so subsequent calls
	// succeed without re-supplying it. Check itself is pure; the mutation
	// happens here.
	if req.UserConsent && perm.ConsentGiven {
		m.checker.Consent().Grant(req.ServerName, req.ToolName, req.SessionID)
	}

	cacheable := perm.Scope == policy.ScopeRead
	key := reliability.Fingerprint(req.ServerName, req.ToolName, req.Arguments)

	if cacheable {
		if value, ok := m.reg.Caches.Get(req.ServerName).Get(key); ok {
			return &CallResult{Result: value, Cached: true, PermissionCheck: perm}, nil
		}
	}

	release, err := m.reg.Gates.Get(req.ServerName).Acquire(ctx)
	if err != nil {
		return &CallResult{PermissionCheck: perm}, internalError()
	}
	defer release()

	breaker := m.reg.Breakers.Get(req.ServerName)
	if err := breaker.Allow(); err != nil {
		return &CallResult{PermissionCheck: perm}, circuitOpen(breaker.RetryAfter())
	}

	result, err := reliability.WithRetry(ctx, m.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return reliability.WithTimeout(ctx, m.cfg.CallTimeout, func(ctx context.Context) (json.RawMessage, error) {
			return m.executor.Invoke(ctx, req.ServerName, req.ToolName, req.Arguments)
		})
	})
	if err != nil {
		breaker.ReportFailure()
		log.Warn().
			Str("server", req.ServerName).
			Str("tool", req.ToolName).
			Err(err).
			Msg("tool call failed")
		return &CallResult{PermissionCheck: perm}, m.normalize(err)
	}

	breaker.ReportSuccess()

	redacted := m.redactor.RedactBytes(result)
	if cacheable {
		m.reg.Caches.Get(req.ServerName).Set(key, redacted)
	}

	return &CallResult{Result: redacted, PermissionCheck: perm}, nil
}

// normalize maps any executor or pipeline failure to the structured taxonomy.
// The raw error is logged, never returned.
func (m *SecureManager) normalize(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	switch {
	case errors.Is(err, reliability.ErrTimeout):
		return timeoutError()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return timeoutError()
	default:
		return transientError("tool call failed")
	}
}

// AnnotatedTool is one executor tool with its permission status.
type AnnotatedTool struct {
	ServerName      string       `json:"serverName"`
	ToolName        string       `json:"toolName"`
	Description     string       `json:"description,omitempty"`
	Allowed         bool         `json:"allowed"`
	Scope           policy.Scope `json:"scope"`
	RequiresConsent bool         `json:"requiresConsent"`
}

// ListToolsWithPermissions enumerates tools from every configured server and
// annotates each with a pure permission check. Nothing is invoked and no
// reliability state is touched. Unreachable servers are skipped with a
// warning.
func (m *SecureManager) ListToolsWithPermissions(ctx context.Context) ([]AnnotatedTool, error) {
	var annotated []AnnotatedTool

	for _, pol := range m.sortedPolicies() {
		tools, err := m.executor.ListTools(ctx, pol.ServerName)
		if err != nil {
			log.Warn().Str("server", pol.ServerName).Err(err).Msg("tool listing failed")
			continue
		}

		for _, tool := range tools {
			perm := m.checker.Check(policy.CheckRequest{
				ServerName: pol.ServerName,
				ToolName:   tool.Name,
			})
			scope := pol.ScopeFor(tool.Name)
			annotated = append(annotated, AnnotatedTool{
				ServerName:      pol.ServerName,
				ToolName:        tool.Name,
				Description:     tool.Description,
				Allowed:         perm.Allowed || perm.ConsentRequired,
				Scope:           scope,
				RequiresConsent: pol.RequiresConsent && scope != policy.ScopeRead,
			})
		}
	}

	return annotated, nil
}

// ServerStatus describes one configured server's reachability.
type ServerStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Tools     int    `json:"tools"`
}

// Status probes every configured server's tool listing.
func (m *SecureManager) Status(ctx context.Context) []ServerStatus {
	var statuses []ServerStatus
	for _, pol := range m.sortedPolicies() {
		tools, err := m.executor.ListTools(ctx, pol.ServerName)
		statuses = append(statuses, ServerStatus{
			Name:      pol.ServerName,
			Connected: err == nil,
			Tools:     len(tools),
		})
	}
	return statuses
}

// Checker exposes the permission checker for the consent endpoints.
func (m *SecureManager) Checker() *policy.Checker {
	return m.checker
}

// Registries exposes the reliability registries for the operator endpoints.
func (m *SecureManager) Registries() *Registries {
	return m.reg
}

// Redactor exposes the redactor so audit records can scrub inputs the same
// way results are scrubbed.
func (m *SecureManager) Redactor() *redact.Redactor {
	return m.redactor
}

func (m *SecureManager) sortedPolicies() []policy.ServerPolicy {
	policies := m.checker.Policies()
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].ServerName < policies[j].ServerName
	})
	return policies
}
