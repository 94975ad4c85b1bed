package policy

import (
	"sync"
	"time"
)

// ConsentRecord is one granted consent.
type ConsentRecord struct {
	ServerName string    `json:"serverName"`
	ToolName   string    `json:"toolName"`
	SessionID  string    `json:"sessionId,omitempty"`
	GrantedAt  time.Time `json:"grantedAt"`
}

// ConsentStore tracks granted consent per (server, tool) pair. Grants made
// with a session ID are session-scoped; grants without one are process-wide.
// A lookup matches either. Never persisted; cleared on process restart.
type ConsentStore struct {
	mu     sync.RWMutex
	grants map[string]ConsentRecord
}

func NewConsentStore() *ConsentStore {
	return &ConsentStore{
		grants: make(map[string]ConsentRecord),
	}
}

func consentKey(serverName, toolName, sessionID string) string {
	return serverName + "/" + toolName + "@" + sessionID
}

// Grant records consent for a server/tool pair. Empty sessionID grants
// process-wide.
func (s *ConsentStore) Grant(serverName, toolName, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.grants[consentKey(serverName, toolName, sessionID)] = ConsentRecord{
		ServerName: serverName,
		ToolName:   toolName,
		SessionID:  sessionID,
		GrantedAt:  time.Now(),
	}
}

// Revoke removes a grant. With a sessionID it removes only the session-scoped
// grant; without one it removes the process-wide grant and every session
// grant for the pair.
func (s *ConsentStore) Revoke(serverName, toolName, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		delete(s.grants, consentKey(serverName, toolName, sessionID))
		return
	}

	for key, rec := range s.grants {
		if rec.ServerName == serverName && rec.ToolName == toolName {
			delete(s.grants, key)
		}
	}
}

// Has reports whether consent exists for the pair, matching the session
// grant first, then the process-wide fallback.
func (s *ConsentStore) Has(serverName, toolName, sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sessionID != "" {
		if _, ok := s.grants[consentKey(serverName, toolName, sessionID)]; ok {
			return true
		}
	}
	_, ok := s.grants[consentKey(serverName, toolName, "")]
	return ok
}

// Clear removes every grant.
func (s *ConsentStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = make(map[string]ConsentRecord)
}

// Records returns a snapshot of all grants, for the permissions endpoint.
func (s *ConsentStore) Records() []ConsentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]ConsentRecord, 0, len(s.grants))
	for _, rec := range s.grants {
		records = append(records, rec)
	}
	return records
}
