package registry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"devsync-go/internal/device"
)

// HistoryEntry is one terminal sync attempt as written to the journal.
type HistoryEntry struct {
	DeviceID   string        `json:"deviceId"`
	Attempt    uint64        `json:"attempt"`
	Status     device.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Superseded bool          `json:"superseded,omitempty"`
}

// HistoryRecorder appends sync attempts as JSON lines for later inspection.
type HistoryRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewHistoryRecorder creates/opens the journal file and returns a recorder.
func NewHistoryRecorder(path string) (*HistoryRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &HistoryRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single entry to the underlying JSONL file.
func (r *HistoryRecorder) Record(entry HistoryEntry) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return errors.New("history recorder closed")
	}
	return r.enc.Encode(entry)
}

// Close flushes and closes the file handle.
func (r *HistoryRecorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// ReadHistory returns the newest limit entries for deviceID (all devices when empty),
// oldest first. Malformed lines are skipped.
func ReadHistory(path, deviceID string, limit int) ([]HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var out []HistoryEntry
	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var entry HistoryEntry
			if jerr := json.Unmarshal(line, &entry); jerr == nil && (deviceID == "" || entry.DeviceID == deviceID) {
				out = append(out, entry)
				if limit > 0 && len(out) > limit {
					out = out[1:]
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
	}
	return out, nil
}
