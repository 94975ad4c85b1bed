package audit

import (
	"context"
	"encoding/json"
	"time"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionError Decision = "error"
)

// Record is one mediated tool call. Input is the redacted argument payload;
// raw arguments never reach the store.
type Record struct {
	CallID     string          `json:"callId"`
	ServerName string          `json:"serverName"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
	Decision   Decision        `json:"decision"`
	Reason     string          `json:"reason"`
	Cached     bool            `json:"cached"`
	DurationMS int64           `json:"durationMs"`
}

// Entry is a stored record with its assigned row ID and timestamp.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Record
}

type Store interface {
	Log(ctx context.Context, rec Record) error
	GetAll(ctx context.Context) ([]Entry, error)
	Close() error
}
