package ioda

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AuditRecord mirrors one request attempt in the audit log. Status, Bytes,
// and Error are pointers so unset values serialize as JSON null.
type AuditRecord struct {
	TimestampUTC string            `json:"timestamp_utc"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Params       map[string]string `json:"params"`
	Attempt      int               `json:"attempt"`
	Status       *int              `json:"status"`
	Bytes        *int              `json:"bytes"`
	DurationMS   float64           `json:"duration_ms"`
	Error        *string           `json:"error"`
}

// AuditLog appends one NDJSON line per HTTP attempt. Appends are serialized
// under a mutex so concurrent fetch workers never interleave lines.
type AuditLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenAuditLog opens the audit log for appending, creating parent
// directories as needed.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLog{f: f}, nil
}

// Record appends one record. A nil receiver is a disabled log and drops
// the record.
func (a *AuditLog) Record(rec AuditRecord) error {
	if a == nil {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.f.Write(line); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
