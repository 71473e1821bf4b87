package registry

import "github.com/TheMichaelB/ofsync/internal/models"

// nextStatus classifies a pair from its stored and freshly computed hashes.
// Equal hashes are always synced. Divergence accumulates across refreshes: a
// side moving while the other is already marked modified is a conflict, and a
// conflict holds until the two hashes converge. A pair where nothing moved
// keeps prev.
func nextStatus(prev models.FolderStatus, oldLocal, oldRemote, newLocal, newRemote string) models.FolderStatus {
	if newLocal == newRemote {
		return models.FolderSynced
	}

	localMoved := newLocal != oldLocal
	remoteMoved := newRemote != oldRemote

	switch {
	case localMoved && remoteMoved:
		return models.FolderConflict
	case !localMoved && !remoteMoved:
		return prev
	case prev == models.FolderConflict:
		return models.FolderConflict
	case localMoved && prev == models.FolderRemoteModified:
		return models.FolderConflict
	case remoteMoved && prev == models.FolderLocalModified:
		return models.FolderConflict
	case localMoved:
		return models.FolderLocalModified
	default:
		return models.FolderRemoteModified
	}
}

// initialStatus classifies a newly added pair.
func initialStatus(localHash, remoteHash string) models.FolderStatus {
	if localHash == remoteHash {
		return models.FolderSynced
	}
	return models.FolderConflict
}
