// Package store keeps the permit document as a single JSON file on local disk.
// Load never fails: a missing or unreadable file means "no state yet" and yields defaults.
// Save replaces the whole file via a temporary sibling and rename, so readers never see a partial write.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/permits/app/permit"
)

// Store reads and writes the document file
type Store struct {
	path string
	now  func() time.Time
}

// rawDocument is the on-disk shape with every field optional, used for backfill of older files
type rawDocument struct {
	UpdatedAt      json.RawMessage `json:"updatedAt"`
	OverdueMinutes json.RawMessage `json:"overdueMinutes"`
	OverdueHours   json.RawMessage `json:"overdueHours"` // legacy threshold, pre-minutes files
	Jobs           *[]permit.Job   `json:"jobs"`
}

// New makes a Store for the given file. The file doesn't need to exist.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the document file location
func (s *Store) Path() string { return s.path }

// Files returns the names of the document file and its temporary sibling
func (s *Store) Files() []string {
	return []string{filepath.Base(s.path), filepath.Base(s.tmpPath())}
}

// Load reads the document. Missing, unreadable or corrupt files yield a default document.
func (s *Store) Load() permit.Document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] can't read %s, using defaults: %v", s.path, err)
		}
		return permit.NewDocument(s.now())
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[WARN] can't parse %s, using defaults: %v", s.path, err)
		return permit.NewDocument(s.now())
	}
	return s.backfill(raw)
}

// backfill fills fields missing in older documents
func (s *Store) backfill(raw rawDocument) permit.Document {
	doc := permit.NewDocument(s.now())
	if ts, ok := parseUpdatedAt(raw.UpdatedAt); ok {
		doc.UpdatedAt = ts
	}
	if raw.Jobs != nil && *raw.Jobs != nil {
		doc.Jobs = *raw.Jobs
	}

	switch {
	case len(raw.OverdueMinutes) > 0:
		if m, err := permit.ParseMinutes(raw.OverdueMinutes); err == nil {
			doc.OverdueMinutes = permit.ClampMinutes(m)
		}
	case len(raw.OverdueHours) > 0:
		if h, err := permit.ParseMinutes(raw.OverdueHours); err == nil {
			doc.OverdueMinutes = permit.ClampMinutes(h * 60)
		}
	}
	return doc
}

// parseUpdatedAt reads the save timestamp, RFC3339 or naive local time without zone.
// Anything else is reported as missing, the next save overwrites it.
func parseUpdatedAt(raw json.RawMessage) (time.Time, bool) {
	var val string
	if len(raw) == 0 || json.Unmarshal(raw, &val) != nil || val == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
		return ts, true
	}
	if ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", val, time.Local); err == nil {
		return ts, true
	}
	log.Printf("[DEBUG] unrecognized updatedAt %q, reset to now", val)
	return time.Time{}, false
}

// Save stamps UpdatedAt and atomically replaces the document file
func (s *Store) Save(doc *permit.Document) error {
	doc.UpdatedAt = s.now()
	if doc.Jobs == nil {
		doc.Jobs = []permit.Job{}
	}

	buf := bytes.Buffer{}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("can't marshal document: %w", err)
	}

	tmp := s.tmpPath()
	if err := writeSynced(tmp, buf.Bytes()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("can't write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("can't replace %s: %w", s.path, err)
	}
	log.Printf("[DEBUG] saved %s, %d jobs, overdue %dm", s.path, len(doc.Jobs), doc.OverdueMinutes)
	return nil
}

func (s *Store) tmpPath() string { return s.path + ".tmp" }

// writeSynced writes data and flushes it to disk before close
func writeSynced(fname string, data []byte) error {
	fh, err := os.OpenFile(fname, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path from config
	if err != nil {
		return err
	}
	if _, err := fh.Write(data); err != nil {
		_ = fh.Close()
		return err
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}
