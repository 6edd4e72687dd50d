// Package registry records where the running shell's worker listens so other
// invocations (health checks, scripts) can find it without --url. The auth
// token is never written; callers supply it themselves.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

const version = 1

// ErrStale means the entry's shell process is gone.
var ErrStale = errors.New("stale registry entry")

type Entry struct {
	Version   int    `json:"version"`
	ShellPID  int    `json:"shell_pid"`
	WorkerPID int    `json:"worker_pid"`
	BaseURL   string `json:"base_url"`
	StartedAt string `json:"started_at"`
}

// NewEntry describes a worker owned by the current process.
func NewEntry(workerPID int, baseURL string) Entry {
	return Entry{
		Version:   version,
		ShellPID:  os.Getpid(),
		WorkerPID: workerPID,
		BaseURL:   baseURL,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Info pairs the entry's address with token.
func (e Entry) Info(token string) protocol.BackendInfo {
	return protocol.BackendInfo{BaseURL: e.BaseURL, Token: token}
}

// WriteAtomic replaces the file at path.
func WriteAtomic(path string, entry Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	payload, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, append(payload, '\n'), 0600); err != nil {
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

func Read(path string) (Entry, error) {
	var entry Entry
	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("unmarshal registry: %w", err)
	}
	return entry, nil
}

// ReadLive reads the entry and checks that its shell is still running.
func ReadLive(path string) (Entry, error) {
	entry, err := Read(path)
	if err != nil {
		return entry, err
	}
	alive, err := process.PidExists(int32(entry.ShellPID))
	if err != nil || !alive {
		return entry, fmt.Errorf("%w: shell pid %d", ErrStale, entry.ShellPID)
	}
	return entry, nil
}

// Remove deletes the entry if it still belongs to this process.
func Remove(path string) error {
	entry, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && entry.ShellPID != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
