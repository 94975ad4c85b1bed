package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate-io/toolgate/internal/audit"
	"github.com/toolgate-io/toolgate/internal/auth"
	"github.com/toolgate-io/toolgate/internal/gateway"
	"github.com/toolgate-io/toolgate/internal/policy"
	"github.com/toolgate-io/toolgate/internal/redact"
	"github.com/toolgate-io/toolgate/internal/reliability"
)

// stubExecutor answers from canned tool tables without any network.
type stubExecutor struct {
	tools   map[string][]gateway.ToolInfo
	results map[string]json.RawMessage
	fail    bool
}

func (s *stubExecutor) ListTools(ctx context.Context, serverName string) ([]gateway.ToolInfo, error) {
	tools, ok := s.tools[serverName]
	if !ok {
		return nil, fmt.Errorf("server %q unreachable", serverName)
	}
	return tools, nil
}

func (s *stubExecutor) Invoke(ctx context.Context, serverName, toolName string, args json.RawMessage) (json.RawMessage, error) {
	if s.fail {
		return nil, fmt.Errorf("upstream exploded")
	}
	if res, ok := s.results[serverName+"/"+toolName]; ok {
		return res, nil
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func testPolicies() []policy.ServerPolicy {
	return []policy.ServerPolicy{
		{
			ServerName:   "filesystem",
			Enabled:      true,
			DefaultScope: policy.ScopeRead,
			ToolScopes:   map[string]policy.Scope{"write_file": policy.ScopeWrite},
			DeniedTools:  []string{"delete_file"},
		},
		{
			ServerName:      "memory",
			Enabled:         true,
			DefaultScope:    policy.ScopeWrite,
			RequiresConsent: true,
		},
	}
}

func newTestServer(t *testing.T, exec gateway.ToolExecutor) (*Server, audit.Store) {
	t.Helper()

	checker := policy.NewChecker("/workspace", testPolicies(), policy.NewConsentStore())
	reg := &gateway.Registries{
		Breakers: reliability.NewBreakerRegistry(reliability.DefaultBreakerConfig()),
		Gates:    reliability.NewGateRegistry(reliability.DefaultGateConfig(), nil),
		Caches:   reliability.NewCacheRegistry(reliability.DefaultCacheConfig()),
	}
	manager := gateway.NewSecureManager(checker, exec, redact.New(nil), reg, gateway.ManagerConfig{
		CallTimeout: 2 * time.Second,
		Retry:       reliability.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, BackoffMultiplier: 2},
	})

	store, err := audit.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authManager := auth.NewManager(auth.Config{JWTSecret: "test-secret", RequireAuth: false})

	srv := New(Config{Port: 0, ShutdownTimeout: 1}, manager, store, authManager)
	return srv, store
}

func defaultExecutor() *stubExecutor {
	return &stubExecutor{
		tools: map[string][]gateway.ToolInfo{
			"filesystem": {{Name: "read_file"}, {Name: "write_file"}, {Name: "delete_file"}},
			"memory":     {{Name: "create_entities"}},
		},
		results: map[string]json.RawMessage{
			"filesystem/read_file": json.RawMessage(`{"content":"hello"}`),
		},
	}
}

func doJSON(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCallAllowedTool(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CallID)
	assert.False(t, resp.Cached)
	assert.JSONEq(t, `{"content":"hello"}`, string(resp.Result))
}

func TestCallCachedOnSecondRead(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	body := `{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt"}}`

	rec1 := doJSON(srv, http.MethodPost, "/call", body)
	require.Equal(t, http.StatusOK, rec1.Code)
	assert.Contains(t, rec1.Body.String(), `"cached":false`)

	rec2 := doJSON(srv, http.MethodPost, "/call", body)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Contains(t, rec2.Body.String(), `"cached":true`)
}

func TestCallDeniedTool(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"delete_file"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission_denied")
	assert.Contains(t, rec.Body.String(), "permissionCheck")
}

func TestCallSandboxedPath(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/etc/passwd"}}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "outside sandbox")
}

func TestCallConsentFlow(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	withoutConsent := `{"serverName":"memory","toolName":"create_entities","arguments":{"name":"a"}}`
	rec1 := doJSON(srv, http.MethodPost, "/call", withoutConsent)
	assert.Equal(t, http.StatusForbidden, rec1.Code)
	assert.Contains(t, rec1.Body.String(), "consent_required")

	withConsent := `{"serverName":"memory","toolName":"create_entities","arguments":{"name":"a"},"userConsent":true}`
	rec2 := doJSON(srv, http.MethodPost, "/call", withConsent)
	assert.Equal(t, http.StatusOK, rec2.Code, rec2.Body.String())

	// Consent persisted, the original call now succeeds without the flag
	rec3 := doJSON(srv, http.MethodPost, "/call", withoutConsent)
	assert.Equal(t, http.StatusOK, rec3.Code, rec3.Body.String())
}

func TestCallUpstreamFailure(t *testing.T) {
	exec := defaultExecutor()
	exec.fail = true
	srv, _ := newTestServer(t, exec)

	rec := doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt"}}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "transient_tool_error")
}

func TestCallMissingFields(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodPost, "/call", `{"serverName":"filesystem"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallWritesAuditRecords(t *testing.T) {
	srv, store := newTestServer(t, defaultExecutor())

	doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt"}}`)
	doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"delete_file"}`)

	entries, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	decisions := map[audit.Decision]bool{}
	for _, e := range entries {
		decisions[e.Decision] = true
	}
	assert.True(t, decisions[audit.DecisionAllow])
	assert.True(t, decisions[audit.DecisionDeny])
}

func TestCallRedactsAuditInput(t *testing.T) {
	srv, store := newTestServer(t, defaultExecutor())

	doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt","api_key":"sk-live-12345"}}`)

	entries, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.NotContains(t, string(entries[0].Input), "sk-live-12345")
	assert.Contains(t, string(entries[0].Input), "[REDACTED:api-key]")
}

func TestListTools(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodGet, "/tools", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TotalTools   int                                `json:"totalTools"`
		AllowedTools int                                `json:"allowedTools"`
		Tools        []gateway.AnnotatedTool            `json:"tools"`
		ByServer     map[string][]gateway.AnnotatedTool `json:"toolsByServer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.TotalTools)
	assert.Equal(t, 3, resp.AllowedTools)
	assert.Len(t, resp.ByServer["filesystem"], 3)

	byName := map[string]gateway.AnnotatedTool{}
	for _, tool := range resp.Tools {
		byName[tool.ServerName+"/"+tool.ToolName] = tool
	}
	assert.False(t, byName["filesystem/delete_file"].Allowed)
	assert.True(t, byName["filesystem/read_file"].Allowed)
	assert.True(t, byName["memory/create_entities"].RequiresConsent)
}

func TestStatusEndpoint(t *testing.T) {
	exec := defaultExecutor()
	delete(exec.tools, "memory")
	srv, _ := newTestServer(t, exec)

	rec := doJSON(srv, http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Servers []gateway.ServerStatus `json:"servers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Servers, 2)

	for _, s := range resp.Servers {
		if s.Name == "memory" {
			assert.False(t, s.Connected)
		} else {
			assert.True(t, s.Connected)
		}
	}
}

func TestPermissionsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodGet, "/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "filesystem")

	rec = doJSON(srv, http.MethodPost, "/permissions",
		`{"action":"grant","serverName":"memory","toolName":"create_entities"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "create_entities")

	// Granted consent lets the call through without the flag
	callRec := doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"memory","toolName":"create_entities","arguments":{}}`)
	assert.Equal(t, http.StatusOK, callRec.Code, callRec.Body.String())

	rec = doJSON(srv, http.MethodPost, "/permissions",
		`{"action":"revoke","serverName":"memory","toolName":"create_entities"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	callRec = doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"memory","toolName":"create_entities","arguments":{}}`)
	assert.Equal(t, http.StatusForbidden, callRec.Code)
}

func TestPermissionsBadAction(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	rec := doJSON(srv, http.MethodPost, "/permissions", `{"action":"promote"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReliabilityStatsAndActions(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	// Populate some state
	doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt"}}`)

	rec := doJSON(srv, http.MethodGet, "/reliability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuitBreakers")
	assert.Contains(t, rec.Body.String(), "caches")

	rec = doJSON(srv, http.MethodPost, "/reliability", `{"action":"clear-cache","target":"filesystem"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cache cleared, next read is a miss again
	callRec := doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt"}}`)
	assert.Contains(t, callRec.Body.String(), `"cached":false`)

	rec = doJSON(srv, http.MethodPost, "/reliability", `{"action":"detonate"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, defaultExecutor())

	doJSON(srv, http.MethodPost, "/call",
		`{"serverName":"filesystem","toolName":"read_file","arguments":{"path":"/workspace/a.txt"}}`)

	rec := doJSON(srv, http.MethodGet, "/audit", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
	assert.Contains(t, rec.Body.String(), "read_file")
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	checker := policy.NewChecker("/workspace", testPolicies(), policy.NewConsentStore())
	reg := &gateway.Registries{
		Breakers: reliability.NewBreakerRegistry(reliability.DefaultBreakerConfig()),
		Gates:    reliability.NewGateRegistry(reliability.DefaultGateConfig(), nil),
		Caches:   reliability.NewCacheRegistry(reliability.DefaultCacheConfig()),
	}
	manager := gateway.NewSecureManager(checker, defaultExecutor(), redact.New(nil), reg, gateway.ManagerConfig{})

	store, err := audit.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authManager := auth.NewManager(auth.Config{JWTSecret: "test-secret", RequireAuth: true})
	srv := New(Config{Port: 0, ShutdownTimeout: 1}, manager, store, authManager)

	// Health stays open
	rec := doJSON(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Protected routes reject missing tokens
	for _, path := range []string{"/tools", "/audit", "/reliability"} {
		rec := doJSON(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}
