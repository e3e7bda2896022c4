// Package storage owns the on-disk layout of a learning-pipeline storage root
// and the low-level file primitives every store builds on: atomic replace,
// durable line append, and link-or-copy snapshots.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultRoot is the default storage root, relative to the working directory.
	DefaultRoot = ".agents/learning"

	// LiveLogFile is the live, append-only observation log.
	LiveLogFile = "observations.log"

	// ArchiveDir holds sealed observation batches.
	ArchiveDir = "observations.archive"

	// ArchivePrefix and ArchiveExt name sealed batches: observations_<ts>.log.
	ArchivePrefix = "observations_"
	ArchiveExt    = ".log"

	// IdentityFile holds the pipeline identity/config.
	IdentityFile = "identity.json"

	// InstinctsDir holds instinct records.
	InstinctsDir = "instincts"

	// PersonalDir holds instincts produced by local processing.
	PersonalDir = "personal"

	// InheritedDir holds read-only imported instincts.
	InheritedDir = "inherited"

	// EvolvedDir holds generated artifacts, one subdirectory per category.
	EvolvedDir = "evolved"

	// ProvenanceFile is the evolution provenance log inside EvolvedDir.
	ProvenanceFile = "provenance.jsonl"

	// CheckpointsDir holds checkpoint snapshots.
	CheckpointsDir = "checkpoints"

	// LocksDir holds lock files; never snapshotted.
	LocksDir = ".locks"
)

// Layout resolves every path inside one storage root.
type Layout struct {
	// Root is the storage root directory.
	Root string
}

// NewLayout returns the layout of root, made absolute.
func NewLayout(root string) (Layout, error) {
	if root == "" {
		return Layout{}, ErrRootRequired
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve storage root: %w", err)
	}
	return Layout{Root: abs}, nil
}

// Init creates the required directory structure.
func (l Layout) Init() error {
	dirs := []string{
		l.ArchiveDir(),
		l.PersonalDir(),
		l.InheritedDir(),
		filepath.Join(l.Root, EvolvedDir, "skills"),
		filepath.Join(l.Root, EvolvedDir, "commands"),
		filepath.Join(l.Root, EvolvedDir, "agents"),
		l.CheckpointsDir(),
		l.LocksDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LiveLog returns the path of the live observation log.
func (l Layout) LiveLog() string { return filepath.Join(l.Root, LiveLogFile) }

// ArchiveDir returns the sealed-batch directory.
func (l Layout) ArchiveDir() string { return filepath.Join(l.Root, ArchiveDir) }

// IdentityFile returns the identity.json path.
func (l Layout) IdentityFile() string { return filepath.Join(l.Root, IdentityFile) }

// InstinctsDir returns the instinct store directory.
func (l Layout) InstinctsDir() string { return filepath.Join(l.Root, InstinctsDir) }

// PersonalDir returns the directory of locally processed instincts.
func (l Layout) PersonalDir() string { return filepath.Join(l.Root, InstinctsDir, PersonalDir) }

// InheritedDir returns the directory of imported instincts.
func (l Layout) InheritedDir() string { return filepath.Join(l.Root, InstinctsDir, InheritedDir) }

// EvolvedDir returns the evolved-artifact store directory.
func (l Layout) EvolvedDir() string { return filepath.Join(l.Root, EvolvedDir) }

// ArtifactDir returns the directory for one artifact category (skills, commands, agents).
func (l Layout) ArtifactDir(categoryDir string) string {
	return filepath.Join(l.Root, EvolvedDir, categoryDir)
}

// ProvenanceLog returns the evolution provenance log path.
func (l Layout) ProvenanceLog() string { return filepath.Join(l.Root, EvolvedDir, ProvenanceFile) }

// CheckpointsDir returns the checkpoint directory.
func (l Layout) CheckpointsDir() string { return filepath.Join(l.Root, CheckpointsDir) }

// LocksDir returns the lock-file directory.
func (l Layout) LocksDir() string { return filepath.Join(l.Root, LocksDir) }

// LockFile returns the lock file guarding the named store.
func (l Layout) LockFile(name string) string {
	return filepath.Join(l.Root, LocksDir, name+".lock")
}

// StoreEntries lists the top-level entries that together make up pipeline
// state. Checkpoints snapshot exactly these.
func StoreEntries() []string {
	return []string{LiveLogFile, ArchiveDir, InstinctsDir, EvolvedDir, IdentityFile}
}
