// Package config loads gateway settings from the environment and the YAML
// policy file, and hot-reloads the policy file on change.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolgate-io/toolgate/internal/policy"
	"github.com/toolgate-io/toolgate/internal/redact"
	"github.com/toolgate-io/toolgate/internal/reliability"
)

// ServerEntry is one tool server in the policy file: its permission policy
// plus where to reach it and an optional concurrency override.
type ServerEntry struct {
	policy.ServerPolicy `yaml:",inline"`

	Upstream string                  `yaml:"upstream"`
	Gate     *reliability.GateConfig `yaml:"gate,omitempty"`
}

type breakerSection struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

type cacheSection struct {
	MaxSize    int `yaml:"max_size"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

type retrySection struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMS    int     `yaml:"initial_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

type reliabilitySection struct {
	Breaker            breakerSection         `yaml:"breaker"`
	Gate               reliability.GateConfig `yaml:"gate"`
	Cache              cacheSection           `yaml:"cache"`
	Retry              retrySection           `yaml:"retry"`
	CallTimeoutSeconds int                    `yaml:"call_timeout_seconds"`
}

// PolicyFile is the parsed YAML policy file. All durations are plain integer
// seconds or milliseconds in the file; accessors convert them.
type PolicyFile struct {
	SandboxRoot string             `yaml:"sandbox_root"`
	Servers     []ServerEntry      `yaml:"servers"`
	Redaction   []redact.Pattern   `yaml:"redaction_patterns,omitempty"`
	Reliability reliabilitySection `yaml:"reliability"`
}

// LoadPolicyFile reads and validates the policy file at path.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	if err := pf.validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file: %w", err)
	}

	return &pf, nil
}

func (pf *PolicyFile) validate() error {
	if len(pf.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}

	seen := make(map[string]bool, len(pf.Servers))
	for i, s := range pf.Servers {
		if s.ServerName == "" {
			return fmt.Errorf("server %d: missing server_name", i)
		}
		if seen[s.ServerName] {
			return fmt.Errorf("duplicate server %q", s.ServerName)
		}
		seen[s.ServerName] = true

		if s.DefaultScope != "" && !policy.ValidScope(s.DefaultScope) {
			return fmt.Errorf("server %q: unknown default_scope %q", s.ServerName, s.DefaultScope)
		}
		for tool, scope := range s.ToolScopes {
			if !policy.ValidScope(scope) {
				return fmt.Errorf("server %q: tool %q: unknown scope %q", s.ServerName, tool, scope)
			}
		}
	}

	return nil
}

// Policies returns the permission policies for every configured server.
func (pf *PolicyFile) Policies() []policy.ServerPolicy {
	policies := make([]policy.ServerPolicy, 0, len(pf.Servers))
	for _, s := range pf.Servers {
		policies = append(policies, s.ServerPolicy)
	}
	return policies
}

// Upstreams maps server names to their base URLs. Servers without an
// upstream are omitted; they stay visible to policy checks but any call to
// them fails as unreachable.
func (pf *PolicyFile) Upstreams() map[string]string {
	upstreams := make(map[string]string, len(pf.Servers))
	for _, s := range pf.Servers {
		if s.Upstream != "" {
			upstreams[s.ServerName] = s.Upstream
		}
	}
	return upstreams
}

// GateOverrides maps server names to per-server concurrency settings.
func (pf *PolicyFile) GateOverrides() map[string]reliability.GateConfig {
	overrides := make(map[string]reliability.GateConfig)
	for _, s := range pf.Servers {
		if s.Gate != nil {
			overrides[s.ServerName] = *s.Gate
		}
	}
	return overrides
}

// BreakerConfig converts the breaker section, falling back to defaults for
// unset fields.
func (pf *PolicyFile) BreakerConfig() reliability.BreakerConfig {
	cfg := reliability.DefaultBreakerConfig()
	if pf.Reliability.Breaker.FailureThreshold > 0 {
		cfg.FailureThreshold = pf.Reliability.Breaker.FailureThreshold
	}
	if pf.Reliability.Breaker.SuccessThreshold > 0 {
		cfg.SuccessThreshold = pf.Reliability.Breaker.SuccessThreshold
	}
	if pf.Reliability.Breaker.CooldownSeconds > 0 {
		cfg.Cooldown = time.Duration(pf.Reliability.Breaker.CooldownSeconds) * time.Second
	}
	return cfg
}

func (pf *PolicyFile) GateConfig() reliability.GateConfig {
	cfg := reliability.DefaultGateConfig()
	if pf.Reliability.Gate.Policy != "" {
		cfg.Policy = pf.Reliability.Gate.Policy
	}
	if pf.Reliability.Gate.Capacity > 0 {
		cfg.Capacity = pf.Reliability.Gate.Capacity
	}
	if pf.Reliability.Gate.RefillPerSec > 0 {
		cfg.RefillPerSec = pf.Reliability.Gate.RefillPerSec
	}
	return cfg
}

func (pf *PolicyFile) CacheConfig() reliability.CacheConfig {
	cfg := reliability.DefaultCacheConfig()
	if pf.Reliability.Cache.MaxSize > 0 {
		cfg.MaxSize = pf.Reliability.Cache.MaxSize
	}
	if pf.Reliability.Cache.TTLSeconds > 0 {
		cfg.TTL = time.Duration(pf.Reliability.Cache.TTLSeconds) * time.Second
	}
	return cfg
}

func (pf *PolicyFile) RetryPolicy() reliability.RetryPolicy {
	pol := reliability.DefaultRetryPolicy()
	if pf.Reliability.Retry.MaxAttempts > 0 {
		pol.MaxAttempts = pf.Reliability.Retry.MaxAttempts
	}
	if pf.Reliability.Retry.InitialDelayMS > 0 {
		pol.InitialDelay = time.Duration(pf.Reliability.Retry.InitialDelayMS) * time.Millisecond
	}
	if pf.Reliability.Retry.BackoffMultiplier > 0 {
		pol.BackoffMultiplier = pf.Reliability.Retry.BackoffMultiplier
	}
	return pol
}

// CallTimeout is the per-attempt deadline for upstream calls.
func (pf *PolicyFile) CallTimeout() time.Duration {
	if pf.Reliability.CallTimeoutSeconds > 0 {
		return time.Duration(pf.Reliability.CallTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}
