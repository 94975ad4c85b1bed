package policy

import "encoding/json"

// Scope is the permission tier of a tool.
type Scope string

const (
	ScopeRead    Scope = "read"
	ScopeWrite   Scope = "write"
	ScopeExecute Scope = "execute"
)

// ValidScope reports whether s is one of the known scopes.
func ValidScope(s Scope) bool {
	return s == ScopeRead || s == ScopeWrite || s == ScopeExecute
}

// ServerPolicy is the static policy for one tool server. Loaded from the
// policy file; immutable once loaded (reload swaps the whole table).
type ServerPolicy struct {
	ServerName         string           `yaml:"server_name" json:"serverName"`
	Enabled            bool             `yaml:"enabled" json:"enabled"`
	DefaultScope       Scope            `yaml:"default_scope" json:"defaultScope"`
	RequiresConsent    bool             `yaml:"requires_consent" json:"requiresConsent"`
	AllowedTools       []string         `yaml:"allowed_tools,omitempty" json:"allowedTools,omitempty"`
	DeniedTools        []string         `yaml:"denied_tools,omitempty" json:"deniedTools,omitempty"`
	ToolScopes         map[string]Scope `yaml:"tool_scopes,omitempty" json:"toolScopes,omitempty"`
	DeniedPathPatterns []string         `yaml:"denied_path_patterns,omitempty" json:"deniedPathPatterns,omitempty"`
}

// ScopeFor resolves the effective scope for a tool: tool-specific override
// first, server default otherwise.
func (p *ServerPolicy) ScopeFor(toolName string) Scope {
	if s, ok := p.ToolScopes[toolName]; ok {
		return s
	}
	if p.DefaultScope == "" {
		return ScopeRead
	}
	return p.DefaultScope
}

// CheckRequest is one tool call to be evaluated.
type CheckRequest struct {
	ServerName  string          `json:"serverName"`
	ToolName    string          `json:"toolName"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	UserConsent bool            `json:"userConsent,omitempty"`
}

// CheckResult is the outcome of a permission check. Pure data, no side
// effects were taken to produce it.
type CheckResult struct {
	Allowed         bool   `json:"allowed"`
	Scope           Scope  `json:"scope,omitempty"`
	ConsentRequired bool   `json:"consentRequired"`
	ConsentGiven    bool   `json:"consentGiven"`
	Reason          string `json:"reason,omitempty"`
}
