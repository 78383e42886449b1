// Package sessionfile hands the debugger address of a prepared, long-lived
// browser from the prepare command to later buy runs.
package sessionfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultDir  = ".flashbuy"
	fileName    = "session.json"
	tempSuffix  = ".tmp"
	maxFileSize = 64 << 10
)

// ErrNoSession is returned by Read when no prepared session is recorded.
var ErrNoSession = errors.New("no prepared browser session")

// Handoff describes a prepared browser.
type Handoff struct {
	DebuggerAddress string    `json:"debuggerAddress"`
	PID             int       `json:"pid"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Path returns the session file location inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, fileName)
}

func Read(ctx context.Context, dir string) (Handoff, error) {
	if err := ctx.Err(); err != nil {
		return Handoff{}, err
	}

	path := Path(dir)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Handoff{}, ErrNoSession
		}
		return Handoff{}, fmt.Errorf("failed to stat session file %s: %w", path, err)
	}
	if info.Size() > maxFileSize {
		return Handoff{}, fmt.Errorf("session file %s is too large (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Handoff{}, fmt.Errorf("failed to read session file %s: %w", path, err)
	}

	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return Handoff{}, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	if h.DebuggerAddress == "" {
		return Handoff{}, fmt.Errorf("session file %s missing debuggerAddress", path)
	}
	if h.PID <= 0 {
		return Handoff{}, fmt.Errorf("session file %s has invalid pid %d", path, h.PID)
	}
	if h.CreatedAt.IsZero() {
		return Handoff{}, fmt.Errorf("session file %s missing createdAt", path)
	}
	return h, nil
}

// Write records the handoff atomically so a concurrent reader never sees a
// partial file.
func Write(ctx context.Context, dir string, h Handoff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.DebuggerAddress == "" {
		return errors.New("debugger address is required")
	}
	if h.PID <= 0 {
		return fmt.Errorf("pid must be > 0, got %d", h.PID)
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	path := Path(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	tempPath := path + tempSuffix
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to finalize session file %s: %w", path, err)
	}
	return nil
}

// Remove deletes the session file. A missing file is not an error.
func Remove(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := Path(dir)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file %s: %w", path, err)
	}
	return nil
}
