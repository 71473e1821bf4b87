package models

import (
	"fmt"
	"sort"
	"time"
)

// FileStatus is the per-file classification stored in a tracking store.
type FileStatus string

const (
	FileNew      FileStatus = "new"
	FileModified FileStatus = "modified"
	FileSynced   FileStatus = "synced"
	FileDeleted  FileStatus = "deleted"
	FileError    FileStatus = "error"
)

// Valid reports whether s is a known file status.
func (s FileStatus) Valid() bool {
	switch s {
	case FileNew, FileModified, FileSynced, FileDeleted, FileError:
		return true
	}
	return false
}

// ParseFileStatus converts a persisted value back into a FileStatus.
func ParseFileStatus(s string) (FileStatus, error) {
	status := FileStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown file status %q", s)
	}
	return status, nil
}

// FileRecord is the last known state of one file in a tracked folder side.
type FileRecord struct {
	Filename string     `json:"filename" yaml:"filename"`
	Status   FileStatus `json:"status" yaml:"status"`
	LastSync time.Time  `json:"last_sync" yaml:"last_sync"`
	Hash     string     `json:"hash" yaml:"hash"`
}

// IsTombstone reports whether the record marks a file removed from disk.
func (r FileRecord) IsTombstone() bool {
	return r.Status == FileDeleted
}

// FileRecords maps filename to record. Keys are unique per tracking store.
type FileRecords map[string]FileRecord

// Clone returns an independent copy.
func (r FileRecords) Clone() FileRecords {
	clone := make(FileRecords, len(r))
	for name, rec := range r {
		clone[name] = rec
	}
	return clone
}

// Live returns filename -> hash for every record that is not a tombstone.
// Error records are included with their (empty) hash.
func (r FileRecords) Live() map[string]string {
	live := make(map[string]string, len(r))
	for name, rec := range r {
		if rec.IsTombstone() {
			continue
		}
		live[name] = rec.Hash
	}
	return live
}

// Sorted returns the records ordered by filename.
func (r FileRecords) Sorted() []FileRecord {
	out := make([]FileRecord, 0, len(r))
	for _, rec := range r {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// CountByStatus tallies the records per status.
func (r FileRecords) CountByStatus() map[FileStatus]int {
	counts := make(map[FileStatus]int)
	for _, rec := range r {
		counts[rec.Status]++
	}
	return counts
}
