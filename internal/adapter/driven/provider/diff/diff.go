// Package diff defines the normalized per-file diff shape every provider
// adapter converts its wire format into, so callers never branch on which
// provider produced a diff.
package diff

// FileStatus classifies how a file changed within a pull request.
type FileStatus string

// FileStatus values.
const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
)

// DiffFile is one file's change within a pull request diff, normalized
// across GitHub's /files endpoint, GitLab's /changes endpoint, and
// Bitbucket's /diffstat plus per-file diff follow-ups.
type DiffFile struct {
	Status    FileStatus
	OldPath   string
	NewPath   string
	Patch     string
	Additions int
	Deletions int
}
