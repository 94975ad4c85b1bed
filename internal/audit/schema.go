package audit

const (
	tableSchema = `
		CREATE TABLE IF NOT EXISTS call_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			call_id TEXT NOT NULL,
			server_name TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			input TEXT NOT NULL,
			decision TEXT NOT NULL CHECK(decision IN ('allow', 'deny', 'error')),
			reason TEXT NOT NULL,
			cached INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`

	triggerPreventUpdate = `
		CREATE TRIGGER IF NOT EXISTS prevent_update
		BEFORE UPDATE ON call_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Updates not allowed on call_log');
		END`

	triggerPreventDelete = `
		CREATE TRIGGER IF NOT EXISTS prevent_delete
		BEFORE DELETE ON call_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on call_log');
		END`

	indexTimestamp = `
		CREATE INDEX IF NOT EXISTS idx_timestamp ON call_log(timestamp DESC)`

	indexServer = `
		CREATE INDEX IF NOT EXISTS idx_server ON call_log(server_name)`
)

func schemaStatements() []string {
	return []string{
		tableSchema,
		triggerPreventUpdate,
		triggerPreventDelete,
		indexTimestamp,
		indexServer,
	}
}
