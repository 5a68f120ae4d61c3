// Package registry advertises a running master to controllers on the same
// host through one JSON file per account.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"hedge-sync-go/internal/wire"
)

const filePrefix = "master_"

// Record is the discovery metadata of one master.
type Record struct {
	Login           string `json:"login"`
	Broker          string `json:"broker"`
	Server          string `json:"server"`
	DataPort        int    `json:"dataPort"`
	CommandPort     int    `json:"commandPort"`
	Role            string `json:"role"`
	Version         string `json:"version"`
	EventDriven     bool   `json:"eventDriven"`
	CurveEnabled    bool   `json:"curveEnabled"`
	CurvePublicKey  string `json:"curvePublicKey,omitempty"`
	Timestamp       string `json:"timestamp"`
	SessionID       string `json:"sessionId"`
	Platform        string `json:"platform"`
	Transport       string `json:"transport"`
	DataEndpoint    string `json:"dataEndpoint"`
	CommandEndpoint string `json:"commandEndpoint,omitempty"`
	PID             int    `json:"pid"`
}

// NewSessionID returns a fresh identifier for one engine run.
func NewSessionID() string {
	return uuid.NewString()
}

// FileName returns the record file name for login.
func FileName(login string) string {
	return filePrefix + sanitize(login) + ".json"
}

// Path returns the record path for login inside dir.
func Path(dir, login string) string {
	return filepath.Join(dir, FileName(login))
}

// Write stores rec atomically: readers see either the previous record or the
// complete new one.
func Write(dir string, rec Record) (string, error) {
	if rec.Login == "" {
		return "", fmt.Errorf("registration record without login")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir registry: %w", err)
	}
	data, err := wire.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filePrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp registration: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write registration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close registration: %w", err)
	}

	path := Path(dir, rec.Login)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish registration: %w", err)
	}
	return path, nil
}

// Remove deletes the record for login. A missing record is not an error.
func Remove(dir, login string) error {
	err := os.Remove(Path(dir, login))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove registration: %w", err)
	}
	return nil
}

// Read loads the record for login.
func Read(dir, login string) (Record, error) {
	return readFile(Path(dir, login))
}

// List returns every readable record in dir ordered by login. Unreadable
// files are skipped; a missing dir yields no records.
func List(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list registry: %w", err)
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := readFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

func readFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read registration: %w", err)
	}
	var rec Record
	if err := wire.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode registration %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

// sanitize keeps the login usable as a file name component.
func sanitize(login string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, login)
}
