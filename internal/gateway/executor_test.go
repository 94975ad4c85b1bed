package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPExecutorInvoke(t *testing.T) {
	var gotPayload map[string]json.RawMessage
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoke" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"content":"data"}`))
	}))
	defer upstream.Close()

	exec := NewHTTPExecutor(map[string]string{"filesystem": upstream.URL})

	result, err := exec.Invoke(context.Background(), "filesystem", "read_file", json.RawMessage(`{"path":"/workspace/a.txt"}`))
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if string(result) != `{"content":"data"}` {
		t.Errorf("unexpected result: %s", result)
	}
	if string(gotPayload["tool_name"]) != `"read_file"` {
		t.Errorf("tool name not forwarded: %s", gotPayload["tool_name"])
	}
}

func TestHTTPExecutorInvokeValidationError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad args", http.StatusBadRequest)
	}))
	defer upstream.Close()

	exec := NewHTTPExecutor(map[string]string{"fs": upstream.URL})

	_, err := exec.Invoke(context.Background(), "fs", "read_file", nil)
	var ge *Error
	if !errors.As(err, &ge) || ge.Code != CodeToolValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ge.Retryable() {
		t.Error("validation error must not be retryable")
	}
}

func TestHTTPExecutorInvokeTransientError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer upstream.Close()

	exec := NewHTTPExecutor(map[string]string{"fs": upstream.URL})

	_, err := exec.Invoke(context.Background(), "fs", "read_file", nil)
	var ge *Error
	if !errors.As(err, &ge) || ge.Code != CodeTransientTool {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !ge.Retryable() {
		t.Error("5xx should be retryable")
	}
}

func TestHTTPExecutorUnknownServer(t *testing.T) {
	exec := NewHTTPExecutor(map[string]string{})

	if _, err := exec.Invoke(context.Background(), "nope", "x", nil); err == nil {
		t.Fatal("expected error for unconfigured server")
	}
	if _, err := exec.ListTools(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unconfigured server")
	}
}

func TestHTTPExecutorListTools(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"tools":[{"name":"read_file","description":"read"},{"name":"list_dir"}]}`))
	}))
	defer upstream.Close()

	exec := NewHTTPExecutor(map[string]string{"fs": upstream.URL})

	tools, err := exec.ListTools(context.Background(), "fs")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "read_file" {
		t.Errorf("unexpected tools: %+v", tools)
	}
}
