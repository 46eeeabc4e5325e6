package compaction

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// backupTimeLayout is sortable lexicographically, so the artifacts for a
// chat list in compaction order.
const backupTimeLayout = "20060102T150405Z"

// BackupWriter persists backup transcripts to durable storage. Artifacts
// are write-once: one new file per compaction event, never overwritten,
// accumulating per chat.
type BackupWriter struct {
	dir string
}

// NewBackupWriter creates a writer rooted at dir. The directory is
// created on the first write.
func NewBackupWriter(dir string) *BackupWriter {
	return &BackupWriter{dir: dir}
}

// Write persists one backup transcript and returns its path. The file is
// created exclusively (an existing artifact is never clobbered), synced
// to disk, and re-verified before the path is returned, because the
// orchestrator takes destructive steps only after this succeeds.
func (w *BackupWriter) Write(chatID string, compactedAt time.Time, transcript string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", fmt.Errorf("create backup dir %s: %w", w.dir, err)
	}

	stamp := compactedAt.UTC().Format(backupTimeLayout)
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.transcript.log", chatID, stamp))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		// Two compactions of one chat within the same second collide on
		// the name; disambiguate instead of overwriting.
		if os.IsExist(err) {
			path = filepath.Join(w.dir, fmt.Sprintf("%s-%s-%d.transcript.log", chatID, stamp, compactedAt.UnixNano()))
			f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		}
		if err != nil {
			return "", fmt.Errorf("create backup %s: %w", path, err)
		}
	}

	if _, err := f.WriteString(transcript); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write backup %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("sync backup %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close backup %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("verify backup %s: %w", path, err)
	}
	if info.Size() != int64(len(transcript)) {
		return "", fmt.Errorf("verify backup %s: wrote %d bytes, expected %d", path, info.Size(), len(transcript))
	}

	return path, nil
}
