package audit

const (
	queryInsertEntry = `
		INSERT INTO call_log (call_id, server_name, tool_name, input, decision, reason, cached, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	querySelectAll = `
		SELECT id, timestamp, call_id, server_name, tool_name, input, decision, reason, cached, duration_ms
		FROM call_log
		ORDER BY timestamp DESC`
)
