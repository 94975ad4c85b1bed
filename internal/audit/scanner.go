package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var timestamp string
	var input string
	var cached int

	if err := rows.Scan(&e.ID, &timestamp, &e.CallID, &e.ServerName, &e.ToolName,
		&input, &e.Decision, &e.Reason, &cached, &e.DurationMS); err != nil {
		return Entry{}, fmt.Errorf("scan row: %w", err)
	}

	parsedTime, err := parseTimestamp(timestamp)
	if err != nil {
		return Entry{}, err
	}
	e.Timestamp = parsedTime
	e.Input = json.RawMessage(input)
	e.Cached = cached != 0

	return e, nil
}

func parseTimestamp(timestamp string) (time.Time, error) {
	// SQLite CURRENT_TIMESTAMP may come back in either format.
	t, err := time.Parse(time.RFC3339, timestamp)
	if err == nil {
		return t, nil
	}

	t, err = time.Parse("2006-01-02 15:04:05", timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return t, nil
}
