// Package resultlog persists cycle results as a single JSON array on disk.
//
// Every append loads the existing array, adds the new record and rewrites the
// file. The rewrite goes to a temporary file in the same directory that is then
// renamed over the log, so a crash leaves either the old or the new file and
// never a partial one. An absent log starts empty; an unparsable log is
// reported as MalformedLogError and replaced.
package resultlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/onnwee/botwatch/monitor"
)

// MalformedLogError means the log file exists but is not a JSON array of results.
type MalformedLogError struct {
	Path string
	Err  error
}

func (e *MalformedLogError) Error() string {
	return fmt.Sprintf("malformed result log %s: %v", e.Path, e.Err)
}

func (e *MalformedLogError) Unwrap() error { return e.Err }

// FileLog is an append-only JSON array log. Safe for concurrent use within one process.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog returns a log writing to path. Nothing is touched until the first Append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the log file path.
func (l *FileLog) Path() string { return l.path }

// Append adds r to the end of the log. Records already in the log are kept
// byte for byte, including ones this version cannot decode. Only a log that is
// not a JSON array is logged and replaced.
func (l *FileLog) Append(ctx context.Context, r monitor.CycleResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := loadRaw(l.path)
	if err != nil {
		var me *MalformedLogError
		if !errors.As(err, &me) {
			return err
		}
		slog.Warn("result log unreadable; starting a new one", slog.String("path", l.path), slog.Any("err", err))
		entries = nil
	}
	rec, err := json.MarshalIndent(r, "  ", "  ")
	if err != nil {
		return fmt.Errorf("encode cycle result: %w", err)
	}
	return writeAtomic(l.path, encodeArray(append(entries, rec)))
}

// Recent returns up to limit results, newest first. Entries that do not
// decode as a cycle result are skipped.
func (l *FileLog) Recent(_ context.Context, limit int) ([]monitor.CycleResult, error) {
	l.mu.Lock()
	results, err := Load(l.path)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	out := make([]monitor.CycleResult, 0, limit)
	for i := len(results) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, results[i])
	}
	return out, nil
}

// Load reads the results in the log at path, in order. A missing file yields
// an empty slice; content that is not a JSON array yields *MalformedLogError.
// Array entries that do not decode as a cycle result are skipped.
func Load(path string) ([]monitor.CycleResult, error) {
	entries, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	results := make([]monitor.CycleResult, 0, len(entries))
	for i, raw := range entries {
		var r monitor.CycleResult
		if err := json.Unmarshal(raw, &r); err != nil {
			slog.Debug("skipping unreadable result log entry", slog.String("path", path), slog.Int("index", i), slog.Any("err", err))
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func loadRaw(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read result log: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, &MalformedLogError{Path: path, Err: errors.New("not a JSON array")}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, &MalformedLogError{Path: path, Err: err}
	}
	return entries, nil
}

// encodeArray joins entries into an indented JSON array without re-encoding them.
func encodeArray(entries []json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		buf.Write(e)
	}
	if len(entries) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return buf.Bytes()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace result log: %w", err)
	}
	return nil
}
