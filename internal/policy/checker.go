// Package policy evaluates tool call requests against a static per-server
// policy table. Check is pure: the verdict is a function of the policy
// snapshot, the consent store, and the request, with no side effects.
package policy

import (
	"fmt"
	"sync"
)

// Checker evaluates requests against an ordered rule list, first matching
// denial wins. The policy table is swapped wholesale on reload; a check in
// flight sees one consistent snapshot.
type Checker struct {
	mu          sync.RWMutex
	sandboxRoot string
	table       map[string]*ServerPolicy
	consent     *ConsentStore
}

// evalState threads the request and resolved policy through the rule chain.
type evalState struct {
	req   CheckRequest
	pol   *ServerPolicy
	scope Scope
	args  map[string]any
}

// rule inspects the state and returns a verdict, or nil to fall through to
// the next rule.
type rule struct {
	name string
	eval func(c *Checker, s *evalState) *CheckResult
}

func NewChecker(sandboxRoot string, policies []ServerPolicy, consent *ConsentStore) *Checker {
	c := &Checker{
		sandboxRoot: sandboxRoot,
		consent:     consent,
	}
	c.ReplacePolicies(policies)
	return c
}

// ReplacePolicies atomically swaps the policy table. Used at startup and by
// the policy file watcher.
func (c *Checker) ReplacePolicies(policies []ServerPolicy) {
	table := make(map[string]*ServerPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		table[p.ServerName] = &p
	}

	c.mu.Lock()
	c.table = table
	c.mu.Unlock()
}

// Policies returns the current policy snapshot.
func (c *Checker) Policies() []ServerPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServerPolicy, 0, len(c.table))
	for _, p := range c.table {
		out = append(out, *p)
	}
	return out
}

// Consent exposes the consent store for grant/revoke/clear operations.
func (c *Checker) Consent() *ConsentStore {
	return c.consent
}

// SandboxRoot returns the configured filesystem boundary.
func (c *Checker) SandboxRoot() string {
	return c.sandboxRoot
}

// Rules run in this fixed order; the first non-nil verdict short-circuits.
var rules = []rule{
	{"server-disabled", ruleServerEnabled},
	{"denied-tool", ruleDeniedTool},
	{"allow-list", ruleAllowList},
	{"path-sandbox", rulePathSandbox},
	{"dangerous-pattern", ruleDangerousPattern},
	{"consent", ruleConsent},
}

// Check evaluates one request. Pure and total: every request yields a
// CheckResult, never an error.
func (c *Checker) Check(req CheckRequest) CheckResult {
	c.mu.RLock()
	pol, ok := c.table[req.ServerName]
	c.mu.RUnlock()

	if !ok {
		return CheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("unknown server %q", req.ServerName),
		}
	}

	state := &evalState{
		req:   req,
		pol:   pol,
		scope: pol.ScopeFor(req.ToolName),
		args:  extractArgs(req.Arguments),
	}

	for _, r := range rules {
		if verdict := r.eval(c, state); verdict != nil {
			return *verdict
		}
	}

	return CheckResult{
		Allowed:      true,
		Scope:        state.scope,
		ConsentGiven: req.UserConsent,
	}
}

func ruleServerEnabled(c *Checker, s *evalState) *CheckResult {
	if s.pol.Enabled {
		return nil
	}
	return &CheckResult{
		Allowed: false,
		Scope:   s.scope,
		Reason:  "server disabled",
	}
}

func ruleDeniedTool(c *Checker, s *evalState) *CheckResult {
	for _, denied := range s.pol.DeniedTools {
		if denied == s.req.ToolName {
			return &CheckResult{
				Allowed: false,
				Scope:   s.scope,
				Reason:  fmt.Sprintf("tool %q is denied by policy", s.req.ToolName),
			}
		}
	}
	return nil
}

func ruleAllowList(c *Checker, s *evalState) *CheckResult {
	if len(s.pol.AllowedTools) == 0 {
		return nil
	}
	for _, allowed := range s.pol.AllowedTools {
		if allowed == s.req.ToolName {
			return nil
		}
	}
	return &CheckResult{
		Allowed: false,
		Scope:   s.scope,
		Reason:  fmt.Sprintf("tool %q is not in the allow list", s.req.ToolName),
	}
}

// Path sandboxing applies to every scope: a read of /etc/passwd is as much a
// leak as a write outside the root.
func rulePathSandbox(c *Checker, s *evalState) *CheckResult {
	denied := s.pol.DeniedPathPatterns
	if len(denied) == 0 {
		denied = defaultDeniedPathPatterns
	}

	for _, path := range pathCandidates(s.args) {
		if outsideSandbox(path, c.sandboxRoot) {
			return &CheckResult{
				Allowed: false,
				Scope:   s.scope,
				Reason:  "path outside sandbox",
			}
		}
		if pattern, ok := matchesDeniedPattern(path, denied); ok {
			return &CheckResult{
				Allowed: false,
				Scope:   s.scope,
				Reason:  fmt.Sprintf("protected path (%s)", pattern),
			}
		}
	}
	return nil
}

func ruleDangerousPattern(c *Checker, s *evalState) *CheckResult {
	if s.scope == ScopeRead {
		return nil
	}
	if containsDangerousQuery(s.args) {
		return &CheckResult{
			Allowed: false,
			Scope:   s.scope,
			Reason:  "destructive operation pattern rejected",
		}
	}
	return nil
}

func ruleConsent(c *Checker, s *evalState) *CheckResult {
	if !s.pol.RequiresConsent || s.scope == ScopeRead {
		return nil
	}

	if s.req.UserConsent || c.consent.Has(s.req.ServerName, s.req.ToolName, s.req.SessionID) {
		return &CheckResult{
			Allowed:      true,
			Scope:        s.scope,
			ConsentGiven: true,
		}
	}

	return &CheckResult{
		Allowed:         false,
		Scope:           s.scope,
		ConsentRequired: true,
		Reason:          "user consent required",
	}
}
