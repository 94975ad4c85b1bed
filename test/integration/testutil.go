package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolgate-io/toolgate/internal/audit"
	"github.com/toolgate-io/toolgate/internal/auth"
	"github.com/toolgate-io/toolgate/internal/config"
	"github.com/toolgate-io/toolgate/internal/gateway"
	"github.com/toolgate-io/toolgate/internal/policy"
	"github.com/toolgate-io/toolgate/internal/redact"
	"github.com/toolgate-io/toolgate/internal/reliability"
	"github.com/toolgate-io/toolgate/internal/server"
)

// TestEnvironment wires the whole gateway in-process: mock upstream tool
// servers, the policy checker with a hot-reloading policy file, the audit
// store, and the HTTP surface.
type TestEnvironment struct {
	Server      *server.Server
	HTTPServer  *httptest.Server
	Checker     *policy.Checker
	AuditStore  audit.Store
	PolicyPath  string
	InvokeCount *atomic.Int64

	t *testing.T
}

// mockToolServer serves the upstream wire protocol for one named server.
func mockToolServer(tools []gateway.ToolInfo, results map[string]json.RawMessage, invokeCount *atomic.Int64) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tools": tools})
	})

	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		invokeCount.Add(1)

		var req struct {
			ToolName string          `json:"tool_name"`
			Args     json.RawMessage `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if result, ok := results[req.ToolName]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(result)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	return httptest.NewServer(mux)
}

const policyFileTemplate = `
sandbox_root: /workspace
servers:
  - server_name: filesystem
    enabled: true
    upstream: FS_UPSTREAM
    default_scope: read
    tool_scopes:
      write_file: write
    denied_tools:
      - write_file
  - server_name: memory
    enabled: true
    upstream: MEM_UPSTREAM
    default_scope: write
    requires_consent: true
reliability:
  retry:
    max_attempts: 2
    initial_delay_ms: 10
  cache:
    ttl_seconds: 60
  call_timeout_seconds: 2
`

// SetupTestEnvironment builds the full stack against two mock tool servers,
// filesystem and memory.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	invokeCount := &atomic.Int64{}

	fsUpstream := mockToolServer(
		[]gateway.ToolInfo{{Name: "read_file"}, {Name: "write_file"}},
		map[string]json.RawMessage{
			"read_file": json.RawMessage(`{"content":"file contents"}`),
		},
		invokeCount,
	)
	t.Cleanup(fsUpstream.Close)

	memUpstream := mockToolServer(
		[]gateway.ToolInfo{{Name: "create_entities"}},
		map[string]json.RawMessage{
			"create_entities": json.RawMessage(`{"created":1}`),
		},
		invokeCount,
	)
	t.Cleanup(memUpstream.Close)

	tmpDir := t.TempDir()
	policyPath := filepath.Join(tmpDir, "policies.yaml")
	policyYAML := strings.NewReplacer(
		"FS_UPSTREAM", fsUpstream.URL,
		"MEM_UPSTREAM", memUpstream.URL,
	).Replace(policyFileTemplate)
	require.NoError(t, os.WriteFile(policyPath, []byte(policyYAML), 0644))

	pf, err := config.LoadPolicyFile(policyPath)
	require.NoError(t, err)

	checker := policy.NewChecker(pf.SandboxRoot, pf.Policies(), policy.NewConsentStore())

	watcher, err := config.NewPolicyWatcher(policyPath, func(updated *config.PolicyFile) {
		checker.ReplacePolicies(updated.Policies())
	})
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })

	auditStore, err := audit.NewSQLiteStore(filepath.Join(tmpDir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { auditStore.Close() })

	manager := gateway.NewSecureManager(
		checker,
		gateway.NewHTTPExecutor(pf.Upstreams()),
		redact.New(pf.Redaction),
		&gateway.Registries{
			Breakers: reliability.NewBreakerRegistry(pf.BreakerConfig()),
			Gates:    reliability.NewGateRegistry(pf.GateConfig(), pf.GateOverrides()),
			Caches:   reliability.NewCacheRegistry(pf.CacheConfig()),
		},
		gateway.ManagerConfig{
			CallTimeout: pf.CallTimeout(),
			Retry:       pf.RetryPolicy(),
		},
	)

	authManager := auth.NewManager(auth.Config{
		JWTSecret:       "integration-test-secret",
		TokenExpiration: time.Hour,
		RequireAuth:     false,
	})

	srv := server.New(server.ConfigFromSettings(config.Settings{
		Port:            0,
		ReadTimeout:     5,
		WriteTimeout:    5,
		ShutdownTimeout: 1,
	}), manager, auditStore, authManager)

	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)

	return &TestEnvironment{
		Server:      srv,
		HTTPServer:  httpServer,
		Checker:     checker,
		AuditStore:  auditStore,
		PolicyPath:  policyPath,
		InvokeCount: invokeCount,
		t:           t,
	}
}

// Call posts a tool call through the gateway and decodes the response body.
func (env *TestEnvironment) Call(body string) (int, map[string]any) {
	env.t.Helper()

	resp, err := http.Post(env.HTTPServer.URL+"/call", "application/json", strings.NewReader(body))
	require.NoError(env.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(env.t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

// Get fetches a gateway endpoint and decodes the response body.
func (env *TestEnvironment) Get(path string) (int, map[string]any) {
	env.t.Helper()

	resp, err := http.Get(env.HTTPServer.URL + path)
	require.NoError(env.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(env.t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}
