package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	appErrors "gameupdater/internal/errors"
)

// VersionRecord is the persisted identity of the installed game.
type VersionRecord struct {
	Title   string `json:"game_title"`
	Version string `json:"current_version"`
}

// Validate reports whether the record can be persisted.
func (r VersionRecord) Validate() error {
	if strings.TrimSpace(r.Version) == "" {
		return fmt.Errorf("current_version is empty")
	}
	return nil
}

// FileStore reads and writes a VersionRecord as JSON on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the persisted record. A missing or malformed file is a store error.
func (s *FileStore) Load() (VersionRecord, error) {
	return ReadRecord(s.path)
}

// Save replaces the persisted record. The record is written to a temporary file
// in the same directory and renamed over the target, so readers see either the
// old or the new record.
func (s *FileStore) Save(record VersionRecord) error {
	if err := record.Validate(); err != nil {
		return appErrors.New(appErrors.CodeStore, "invalid version record: "+err.Error(), err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return appErrors.New(appErrors.CodeStore, "encode version record", err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return appErrors.New(appErrors.CodeStore, fmt.Sprintf("write version record %s: %v", s.path, err), err)
	}
	return nil
}

// ReadRecord decodes a version record from path. It is used both for the
// persisted record and for the record shipped inside an installed payload.
func ReadRecord(path string) (VersionRecord, error) {
	//nolint:gosec // G304: path comes from configuration
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return VersionRecord{}, appErrors.New(appErrors.CodeStore, fmt.Sprintf("version record %s not found", path), err)
	}
	if err != nil {
		return VersionRecord{}, appErrors.New(appErrors.CodeStore, fmt.Sprintf("read version record %s: %v", path, err), err)
	}

	var record VersionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return VersionRecord{}, appErrors.New(appErrors.CodeStore, fmt.Sprintf("malformed version record %s: %v", path, err), err)
	}
	if err := record.Validate(); err != nil {
		return VersionRecord{}, appErrors.New(appErrors.CodeStore, fmt.Sprintf("malformed version record %s: %v", path, err), err)
	}
	return record, nil
}

// writeFileAtomic writes data to a sibling temp file, syncs it and renames it
// over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	//nolint:gosec // G301: game directory needs standard permissions
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return nil
}
