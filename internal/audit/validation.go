package audit

import (
	"encoding/json"
	"fmt"
)

func validateRecord(rec Record) error {
	if rec.ServerName == "" {
		return fmt.Errorf("server_name cannot be empty")
	}

	if rec.ToolName == "" {
		return fmt.Errorf("tool_name cannot be empty")
	}

	if len(rec.Input) > 0 && !json.Valid(rec.Input) {
		return fmt.Errorf("input must be valid JSON")
	}

	if !isValidDecision(rec.Decision) {
		return fmt.Errorf("invalid decision: %s", rec.Decision)
	}

	if rec.Reason == "" {
		return fmt.Errorf("reason cannot be empty")
	}

	return nil
}

func isValidDecision(d Decision) bool {
	return d == DecisionAllow || d == DecisionDeny || d == DecisionError
}
