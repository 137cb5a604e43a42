package tailer

import "encoding/json"

// journalEntry mirrors the subset of `journalctl -o json` fields kerngrid
// cares about, field names matching journald's JSON export verbatim.
// Grounded on the teacher's internal/ingest/journald.go JournalEntry type.
type journalEntry struct {
	Message string `json:"MESSAGE"`
}

// parseJournalMessage extracts the MESSAGE field from one journalctl JSON
// line. Lines that fail to parse or carry no message are skipped, not
// fatal — a single malformed journal entry must not abort the drain.
func parseJournalMessage(line []byte) (string, bool) {
	var e journalEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return "", false
	}
	if e.Message == "" {
		return "", false
	}
	return e.Message, true
}
