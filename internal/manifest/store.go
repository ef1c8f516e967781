package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Closed error set for the store. Callers match with errors.Is.
var (
	ErrNotFound = errors.New("manifest not found")
	ErrCorrupt  = errors.New("manifest corrupt")
	ErrPersist  = errors.New("manifest write failed")
)

const backupTag = ".bak-"

// Store owns the on-disk manifest and all mutation paths.
type Store struct {
	Path       string
	BackupKeep int // newest N backups retained; 0 disables backups
}

func NewStore(path string, backupKeep int) *Store {
	return &Store{Path: path, BackupKeep: backupKeep}
}

// Load reads and parses the manifest file.
func (s *Store) Load() ([]AppRecord, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.Path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var records []AppRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return records, nil
}

// Write atomically replaces the manifest: back up the current file, write
// the full serialization to a temp file in the same directory, fsync, then
// rename onto the target. A failure before the rename leaves the original
// untouched and removes the temp file.
func (s *Store) Write(records []AppRecord) error {
	if err := s.backup(); err != nil {
		return fmt.Errorf("%w: backup: %v", ErrPersist, err)
	}

	payload, err := Encode(records)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrPersist, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}
	if _, err := tmp.Write(payload); err != nil {
		cleanup()
		return fmt.Errorf("%w: write temp: %v", ErrPersist, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: sync temp: %v", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp: %v", ErrPersist, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod temp: %v", ErrPersist, err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replace: %v", ErrPersist, err)
	}
	return nil
}

// Encode renders the canonical on-disk serialization: a pretty-printed
// JSON array with stable per-record key order.
func Encode(records []AppRecord) ([]byte, error) {
	if records == nil {
		records = []AppRecord{}
	}
	payload, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

// backup copies the current manifest to a timestamped sibling and prunes
// old backups beyond BackupKeep.
func (s *Store) backup() error {
	if s.BackupKeep <= 0 {
		return nil
	}
	src, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	name := s.Path + backupTag + time.Now().Format("20060102-150405")
	target := name
	for n := 2; ; n++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = fmt.Sprintf("%s-%d", name, n)
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(target)
		return err
	}
	return s.rotateBackups()
}

func (s *Store) rotateBackups() error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	if len(backups) <= s.BackupKeep {
		return nil
	}
	for _, old := range backups[:len(backups)-s.BackupKeep] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Backups lists backup files for this manifest, oldest first.
func (s *Store) Backups() ([]string, error) {
	dir := filepath.Dir(s.Path)
	base := filepath.Base(s.Path) + backupTag
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), base) {
			continue
		}
		backups = append(backups, filepath.Join(dir, entry.Name()))
	}
	// Timestamped names sort chronologically.
	sort.Strings(backups)
	return backups, nil
}

// Upsert sets version and updated_time on the record with the given uid,
// appending a new record when the uid is not tracked yet. The mutation rule
// lives here and nowhere else.
func Upsert(records []AppRecord, uid int, version, updatedTime string) []AppRecord {
	for i := range records {
		if records[i].UID == uid {
			records[i].Version = version
			records[i].UpdatedTime = updatedTime
			return records
		}
	}
	return append(records, AppRecord{UID: uid, Version: version, UpdatedTime: updatedTime})
}
