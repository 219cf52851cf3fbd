// Package audit keeps an append-only, hash-chained JSON-lines record of the
// writes a client session sends to the backend.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Trail writes entries to a file, each hash covering the previous one.
type Trail struct {
	mu        sync.Mutex
	file      *os.File
	sessionID string
	prevHash  string
}

// DefaultPath returns ~/.tb-dash/audit.log.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tb-dash-audit.log")
	}
	return filepath.Join(home, ".tb-dash", "audit.log")
}

// Open opens (or creates) the trail at path, continuing the hash chain of any
// entries already in it. The directory is created 0700, the file 0600.
func Open(path, sessionID string) (*Trail, error) {
	if path == "" {
		path = DefaultPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create dir %s: %w", dir, err)
	}

	prevHash, err := lastHash(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Trail{file: f, sessionID: sessionID, prevHash: prevHash}, nil
}

// Record appends e, stamping time, session and hash.
func (t *Trail) Record(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SessionID == "" {
		e.SessionID = t.sessionID
	}

	hash, err := chainHash(t.prevHash, e)
	if err != nil {
		return err
	}
	e.EntryHash = hash

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	t.prevHash = hash
	return nil
}

// Close closes the underlying file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// Verify re-computes the chain of the trail at path and returns the number of
// entries. The first broken link is reported with its line number.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	prev := ""
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return n, fmt.Errorf("audit: line %d: %w", line, err)
		}
		want, err := chainHash(prev, e)
		if err != nil {
			return n, err
		}
		if e.EntryHash != want {
			return n, fmt.Errorf("audit: line %d: hash chain broken", line)
		}
		prev = e.EntryHash
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("audit: read %s: %w", path, err)
	}
	return n, nil
}

// chainHash is sha256(prev || json(e without hash)).
func chainHash(prev string, e Entry) (string, error) {
	e.EntryHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: marshal: %w", err)
	}
	h := sha256.Sum256(append([]byte(prev), raw...))
	return hex.EncodeToString(h[:]), nil
}

func lastHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read %s: %w", path, err)
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte{'\n'})
	for i := len(lines) - 1; i >= 0; i-- {
		if len(bytes.TrimSpace(lines[i])) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(lines[i], &e); err != nil {
			return "", fmt.Errorf("audit: last entry of %s is corrupt: %w", path, err)
		}
		return e.EntryHash, nil
	}
	return "", nil
}
