package storage

import (
	"time"
)

// Metadata is the index of files stored in a vault
type Metadata struct {
	Files        []FileEntry `json:"files"`
	CreatedAt    time.Time   `json:"created_at"`
	LastModified time.Time   `json:"last_modified"`
}

// FileEntry represents one stored file
type FileEntry struct {
	OriginalName string    `json:"original_name"`
	ArtifactID   string    `json:"artifact_id"`
	AddedAt      time.Time `json:"added_at"`
	Size         int64     `json:"size"`
}

// NewMetadata creates a new metadata structure
func NewMetadata() *Metadata {
	now := time.Now().UTC()
	return &Metadata{
		Files:        make([]FileEntry, 0),
		CreatedAt:    now,
		LastModified: now,
	}
}

// FileCount returns the number of stored files
func (m *Metadata) FileCount() int {
	return len(m.Files)
}

// TotalSize returns the sum of plaintext sizes
func (m *Metadata) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// AddFile appends a file entry and bumps LastModified
func (m *Metadata) AddFile(entry FileEntry) {
	if entry.Size < 0 {
		entry.Size = 0
	}
	m.Files = append(m.Files, entry)
	m.Touch()
}

// RemoveFile removes the entry with the given artifact id
func (m *Metadata) RemoveFile(artifactID string) (FileEntry, bool) {
	for i, f := range m.Files {
		if f.ArtifactID == artifactID {
			m.Files = append(m.Files[:i], m.Files[i+1:]...)
			m.Touch()
			return f, true
		}
	}
	return FileEntry{}, false
}

// FindFile finds a file entry by artifact id
func (m *Metadata) FindFile(artifactID string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].ArtifactID == artifactID {
			return &m.Files[i]
		}
	}
	return nil
}

// Touch sets LastModified to now
func (m *Metadata) Touch() {
	m.LastModified = time.Now().UTC()
}

// Clone returns a deep copy
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.Files = append(make([]FileEntry, 0, len(m.Files)), m.Files...)
	return &c
}

func (m *Metadata) validate() error {
	seen := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		if f.ArtifactID == "" {
			return errMissingArtifactID
		}
		if _, dup := seen[f.ArtifactID]; dup {
			return errDuplicateArtifactID
		}
		seen[f.ArtifactID] = struct{}{}
	}
	return nil
}
