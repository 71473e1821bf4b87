package models

import (
	"fmt"
	"strings"
	"time"
)

// FolderStatus is the aggregate classification of a tracked folder pair.
type FolderStatus string

const (
	FolderSynced         FolderStatus = "synced"
	FolderLocalModified  FolderStatus = "local_modified"
	FolderRemoteModified FolderStatus = "remote_modified"
	FolderConflict       FolderStatus = "conflict"
)

// ParseFolderStatus converts a persisted value back into a FolderStatus.
func ParseFolderStatus(s string) (FolderStatus, error) {
	switch status := FolderStatus(s); status {
	case FolderSynced, FolderLocalModified, FolderRemoteModified, FolderConflict:
		return status, nil
	}
	return "", fmt.Errorf("unknown folder status %q", s)
}

// Side names one half of a tracked pair.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// ParseSide accepts "local" or "remote" in any case.
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToLower(strings.TrimSpace(s))); side {
	case SideLocal, SideRemote:
		return side, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// TrackedFolder is one registered local/remote folder pair.
type TrackedFolder struct {
	ID         int64        `json:"id" yaml:"id"`
	Name       string       `json:"name" yaml:"name"`
	LocalPath  string       `json:"local_path" yaml:"local_path"`
	RemotePath string       `json:"remote_path" yaml:"remote_path"`
	Status     FolderStatus `json:"status" yaml:"status"`
	LocalHash  string       `json:"local_hash" yaml:"local_hash"`
	RemoteHash string       `json:"remote_hash" yaml:"remote_hash"`
	LastSync   time.Time    `json:"last_sync" yaml:"last_sync"`
}

// Path returns the path of the given side.
func (f *TrackedFolder) Path(side Side) string {
	if side == SideRemote {
		return f.RemotePath
	}
	return f.LocalPath
}

// FolderPatch carries a partial update. Empty fields are left unchanged.
type FolderPatch struct {
	Name       string
	LocalPath  string
	RemotePath string
}

// IsEmpty reports whether the patch changes nothing.
func (p FolderPatch) IsEmpty() bool {
	return p.Name == "" && p.LocalPath == "" && p.RemotePath == ""
}
