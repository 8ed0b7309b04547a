// Package atomicio provides the write-temp-fsync-rename discipline every
// codec writer uses to put bytes on disk without ever leaving a target in
// a half-written state, plus the backup-before-overwrite and rollback
// support the conversion pipeline needs when a post-write verification
// fails.
package atomicio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/casr-dev/casr/internal/casrerr"
)

// Outcome records the paths touched by a successful AtomicWrite, so the
// caller can verify the write and the pipeline can roll it back.
type Outcome struct {
	TargetPath string
	TempPath   string
	BackupPath string // empty when no existing file was moved aside
}

// AtomicWrite writes content to targetPath without ever leaving it
// half-written: it writes to a uniquely-named temp file in the same
// directory, fsyncs it, and renames it into place. If targetPath already
// exists, force must be true or a SessionConflict error is returned; when
// force is true the existing file is moved aside as a backup first and
// restored automatically if any later step fails.
func AtomicWrite(targetPath string, content []byte, force bool, providerSlug string) (Outcome, error) {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Outcome{}, &casrerr.SessionWriteError{Path: targetPath, Provider: providerSlug, Detail: "failed to create directory", Err: err}
	}

	var backupPath string
	if _, err := os.Stat(targetPath); err == nil {
		if !force {
			return Outcome{}, &casrerr.SessionConflict{ExistingPath: targetPath}
		}
		backupPath, err = findBackupPath(targetPath)
		if err != nil {
			return Outcome{}, &casrerr.SessionWriteError{Path: targetPath, Provider: providerSlug, Detail: "failed to choose backup path", Err: err}
		}
		if err := os.Rename(targetPath, backupPath); err != nil {
			return Outcome{}, &casrerr.SessionWriteError{Path: targetPath, Provider: providerSlug, Detail: "failed to move existing file to backup", Err: err}
		}
	} else if !os.IsNotExist(err) {
		return Outcome{}, &casrerr.SessionWriteError{Path: targetPath, Provider: providerSlug, Detail: "failed to stat target", Err: err}
	}

	outcome := Outcome{TargetPath: targetPath, BackupPath: backupPath}

	tempPath := filepath.Join(dir, ".casr-tmp-"+uuid.New().String())
	outcome.TempPath = tempPath

	if err := writeAndSync(tempPath, content); err != nil {
		os.Remove(tempPath)
		restoreBackupOnFailure(targetPath, backupPath)
		return Outcome{}, &casrerr.SessionWriteError{Path: targetPath, Provider: providerSlug, Detail: err.Error(), Err: err}
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		restoreBackupOnFailure(targetPath, backupPath)
		return Outcome{}, &casrerr.SessionWriteError{Path: targetPath, Provider: providerSlug, Detail: "failed to rename temp file into place", Err: err}
	}

	return outcome, nil
}

func writeAndSync(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := retryingFsync(f); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	return nil
}

// retryingFsync wraps fsync with a short bounded retry, tolerating the
// transient EINTR/EAGAIN fsync failures some network filesystems surface.
// Any other error (permission, space, ...) is returned at once; the backoff
// gives up after three retries regardless.
func retryingFsync(f *os.File) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(func() error {
		err := f.Sync()
		if err != nil && !errors.Is(err, syscall.EINTR) && !errors.Is(err, syscall.EAGAIN) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func restoreBackupOnFailure(targetPath, backupPath string) {
	if backupPath == "" {
		return
	}
	os.Rename(backupPath, targetPath)
}

// findBackupPath picks a name to move an existing file aside to before
// overwriting it: "<path>.bak", then "<path>.bak.1".."<path>.bak.99", then
// a random UUID-suffixed name as a last resort.
func findBackupPath(targetPath string) (string, error) {
	candidate := targetPath + ".bak"
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}
	for i := 1; i <= 99; i++ {
		candidate = fmt.Sprintf("%s.bak.%d", targetPath, i)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s.bak.%s", targetPath, uuid.New().String()), nil
}

// RestoreBackup undoes a successful AtomicWrite: if a backup was made, the
// written target is removed and the backup is moved back into place;
// otherwise the written target is simply removed.
func RestoreBackup(outcome Outcome) error {
	if outcome.BackupPath != "" {
		if err := os.Remove(outcome.TargetPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove written target during rollback: %w", err)
		}
		if err := os.Rename(outcome.BackupPath, outcome.TargetPath); err != nil {
			return fmt.Errorf("failed to restore backup during rollback: %w", err)
		}
		return nil
	}
	if outcome.TargetPath == "" {
		return fmt.Errorf("rollback requested with no target path recorded")
	}
	if err := os.Remove(outcome.TargetPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove written target during rollback: %w", err)
	}
	return nil
}
