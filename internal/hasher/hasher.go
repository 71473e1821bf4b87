// Package hasher fingerprints file contents and whole folders.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/crypto/blake2b"

	"github.com/TheMichaelB/ofsync/internal/config"
	"github.com/TheMichaelB/ofsync/internal/models"
)

// DefaultChunkSize is the read buffer used when streaming file contents.
const DefaultChunkSize = 8 * 1024

// Hasher computes content digests with one configured algorithm.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
	chunkSize int
}

// New returns a SHA-256 hasher reading 8 KiB chunks.
func New() *Hasher {
	return &Hasher{
		algorithm: config.AlgorithmSHA256,
		newHash:   sha256.New,
		chunkSize: DefaultChunkSize,
	}
}

// FromConfig builds a hasher for the configured algorithm and chunk size.
func FromConfig(cfg config.ScanConfig) (*Hasher, error) {
	h := New()
	if cfg.ChunkSize > 0 {
		h.chunkSize = cfg.ChunkSize
	}

	switch cfg.Algorithm {
	case "", config.AlgorithmSHA256:
	case config.AlgorithmBLAKE2b:
		h.algorithm = config.AlgorithmBLAKE2b
		h.newHash = func() hash.Hash {
			// New256 only fails for keys longer than 64 bytes.
			d, _ := blake2b.New256(nil)
			return d
		}
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}

	return h, nil
}

// Algorithm returns the digest name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// HashReader streams r through the digest.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	d := h.newHash()
	buf := make([]byte, h.chunkSize)
	if _, err := io.CopyBuffer(onlyWriter{d}, onlyReader{r}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// HashFile hashes the named file of fsys. Failures are *models.HashError.
func (h *Hasher) HashFile(fsys billy.Filesystem, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", &models.HashError{Path: name, Err: err}
	}
	defer f.Close()

	sum, err := h.HashReader(f)
	if err != nil {
		return "", &models.HashError{Path: name, Err: err}
	}
	return sum, nil
}

// HashPath hashes a file given by an operating-system path.
func (h *Hasher) HashPath(path string) (string, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	return h.HashFile(osfs.New(dir), name)
}

// HashFolder digests "filename:hash" for every entry in lexicographic
// filename order. The caller passes only live (non-deleted) files.
func (h *Hasher) HashFolder(files map[string]string) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	d := h.newHash()
	for _, name := range names {
		_, _ = io.WriteString(d, name+":"+files[name])
	}
	return hex.EncodeToString(d.Sum(nil))
}

// onlyReader and onlyWriter hide ReaderFrom/WriterTo so io.CopyBuffer
// really reads in chunkSize pieces.
type onlyReader struct{ io.Reader }

type onlyWriter struct{ io.Writer }
