package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

const (
	journalFile   = ".restore.journal"
	restorePrefix = ".restore-"
	stagedDir     = "staged"
	retiredDir    = "old"
)

// ErrChecksumMismatch is returned when a checkpoint file no longer matches
// its manifest. Nothing is restored.
var ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")

// journal records a restore whose staging is complete. Its presence means the
// swap must be driven to completion.
type journal struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`

	// Present lists the store entries the checkpoint contains. Entries not
	// listed are removed from the root.
	Present []string `json:"present"`
}

// Restore replaces every store with the contents of checkpoint id.
func (m *Manager) Restore(ctx context.Context, id string) error {
	start := time.Now()
	defer m.metrics.Observe("checkpoint_restore", start)

	if !ValidID(id) {
		return fmt.Errorf("%w: %q", types.ErrCheckpointNotFound, id)
	}
	ckpt, err := m.manifest(id)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", types.ErrCheckpointNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", id, err)
	}

	locks, err := m.lockAll(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = locks.Release() //nolint:errcheck // unlock best-effort
	}()

	src := filepath.Join(m.layout.CheckpointsDir(), id)
	if err := verify(src, ckpt); err != nil {
		return err
	}

	work := m.workDir(id)
	if err := os.RemoveAll(work); err != nil {
		return err
	}
	paths := make([]string, len(ckpt.Files))
	for i, f := range ckpt.Files {
		paths[i] = f.Path
	}
	if _, err := snapshot(ctx, src, filepath.Join(work, stagedDir), paths); err != nil {
		_ = os.RemoveAll(work) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("stage checkpoint %s: %w", id, err)
	}

	j := journal{ID: id, StartedAt: m.now().UTC(), Present: presentEntries(paths)}
	if err := storage.WriteJSON(m.journalPath(), j); err != nil {
		_ = os.RemoveAll(work) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write restore journal: %w", err)
	}

	// past this point the restore only rolls forward
	if err := m.apply(j); err != nil {
		return err
	}

	m.metrics.Checkpoint("restore")
	m.logger.Info("restored checkpoint",
		zap.String("checkpoint", id),
		zap.Int("files", len(ckpt.Files)))
	return nil
}

// Recover completes a restore interrupted after its journal was written and
// discards the leftovers of an interrupted create or staging. It takes the
// store locks only when there is something to recover.
func (m *Manager) Recover(ctx context.Context) error {
	dir := m.layout.CheckpointsDir()
	if len(m.leftovers()) == 0 && !storage.Exists(m.journalPath()) {
		return nil
	}

	locks, err := m.lockAll(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = locks.Release() //nolint:errcheck // unlock best-effort
	}()

	var j journal
	err = storage.ReadJSON(m.journalPath(), &j)
	switch {
	case err == nil:
		m.logger.Warn("completing interrupted restore", zap.String("checkpoint", j.ID))
		if err := m.apply(j); err != nil {
			return err
		}
		m.metrics.Checkpoint("recover")
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read restore journal: %w", err)
	}

	for _, name := range m.leftovers() {
		m.logger.Warn("removing interrupted checkpoint work", zap.String("dir", name))
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// leftovers lists the work directories of interrupted creates and restores.
func (m *Manager) leftovers() []string {
	entries, err := os.ReadDir(m.layout.CheckpointsDir())
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() && (strings.HasPrefix(name, tmpPrefix) || strings.HasPrefix(name, restorePrefix)) {
			out = append(out, name)
		}
	}
	return out
}

// apply swaps every store entry for its staged copy. Each step checks what
// is already in place, so apply can be re-run after a crash at any point.
func (m *Manager) apply(j journal) error {
	work := m.workDir(j.ID)
	for _, entry := range storage.StoreEntries() {
		current := filepath.Join(m.layout.Root, entry)
		staged := filepath.Join(work, stagedDir, entry)
		retired := filepath.Join(work, retiredDir, entry)

		if slices.Contains(j.Present, entry) && !storage.Exists(staged) {
			continue // already swapped in
		}
		if storage.Exists(current) && !storage.Exists(retired) {
			if err := os.MkdirAll(filepath.Dir(retired), 0700); err != nil {
				return err
			}
			if err := os.Rename(current, retired); err != nil {
				return fmt.Errorf("retire %s: %w", entry, err)
			}
		}
		if !slices.Contains(j.Present, entry) {
			continue
		}
		if err := os.RemoveAll(current); err != nil {
			return err
		}
		if err := os.Rename(staged, current); err != nil {
			return fmt.Errorf("swap in %s: %w", entry, err)
		}
	}

	if err := m.layout.Init(); err != nil {
		return err
	}
	if err := os.Remove(m.journalPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.RemoveAll(work)
}

func (m *Manager) workDir(id string) string {
	return filepath.Join(m.layout.CheckpointsDir(), restorePrefix+id)
}

func (m *Manager) journalPath() string {
	return filepath.Join(m.layout.CheckpointsDir(), journalFile)
}

// presentEntries returns the top-level store entries that paths touch.
func presentEntries(paths []string) []string {
	var out []string
	for _, p := range paths {
		top, _, _ := strings.Cut(p, "/")
		if !slices.Contains(out, top) {
			out = append(out, top)
		}
	}
	slices.Sort(out)
	return out
}

// verify checks every checkpoint file against its manifest entry.
func verify(dir string, ckpt Checkpoint) error {
	for _, f := range ckpt.Files {
		size, sum, err := hashFile(filepath.Join(dir, filepath.FromSlash(f.Path)))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrChecksumMismatch, f.Path, err)
		}
		if size != f.Size || sum != f.SHA256 {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, f.Path)
		}
	}
	return nil
}
