package scanner

import "github.com/go-git/go-billy/v5"

// SetFilesystem replaces how the scanner opens a folder.
func (s *Scanner) SetFilesystem(newFS func(root string) billy.Filesystem) {
	s.newFS = newFS
}
