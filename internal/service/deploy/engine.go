package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/tycana/releases/internal/logger"
	"github.com/tycana/releases/internal/privilege"
)

var (
	// ErrBackupFailed indicates the current binary could not be vacated.
	// The original binary is untouched at its original name, so no rollback
	// is needed.
	ErrBackupFailed = errors.New("unable to vacate current binary")

	// ErrVerificationFailed indicates the newly placed binary failed its
	// self-check.
	ErrVerificationFailed = errors.New("deployed binary failed verification")
)

// RestoreError is the loudest error class: a rollback rename itself failed
// and no binary exists at the expected path. The backup location is the
// operator's last line of defense and must be reported verbatim.
type RestoreError struct {
	// BackupPath is where the last known good binary still lives.
	BackupPath string
	// RestoreCause is the failure of the rollback rename.
	RestoreCause error
	// Cause is the failure that triggered the rollback.
	Cause error
}

// Error implements the error interface.
func (e *RestoreError) Error() string {
	return fmt.Sprintf(
		"CRITICAL: rollback failed (%v) after %v; the last good binary is preserved at %s — restore it manually",
		e.RestoreCause, e.Cause, e.BackupPath)
}

// Unwrap exposes the failure that triggered the rollback.
func (e *RestoreError) Unwrap() error {
	return e.Cause
}

// mover performs the filesystem mutations of the deployment protocol,
// either directly or through the elevation path. The implementation is
// chosen once per run, so the elevation decision cannot flip between steps
// and leave the sequence half-privileged.
type mover interface {
	Rename(ctx context.Context, oldPath, newPath string) error
	Remove(ctx context.Context, path string) error
	Copy(ctx context.Context, src, dst string, mode os.FileMode) error
	MkdirAll(ctx context.Context, dir string) error
}

// directMover mutates the filesystem with the process's own credentials.
type directMover struct{}

func (directMover) Rename(_ context.Context, oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (directMover) Remove(_ context.Context, path string) error {
	return os.Remove(path)
}

func (directMover) Copy(_ context.Context, src, dst string, mode os.FileMode) error {
	return copyFile(src, dst, mode)
}

func (directMover) MkdirAll(_ context.Context, dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// elevatedMover routes every mutation through the elevation handle obtained
// once at the start of the run.
type elevatedMover struct {
	handle *privilege.Handle
}

func (m elevatedMover) Rename(ctx context.Context, oldPath, newPath string) error {
	return m.handle.Run(ctx, "mv", oldPath, newPath)
}

func (m elevatedMover) Remove(ctx context.Context, path string) error {
	return m.handle.Run(ctx, "rm", "-f", path)
}

func (m elevatedMover) Copy(ctx context.Context, src, dst string, mode os.FileMode) error {
	if err := m.handle.Run(ctx, "cp", src, dst); err != nil {
		return err
	}

	return m.handle.Run(ctx, "chmod", fmt.Sprintf("%o", mode.Perm()), dst)
}

func (m elevatedMover) MkdirAll(ctx context.Context, dir string) error {
	return m.handle.Run(ctx, "mkdir", "-p", dir)
}

// copyFile duplicates src to dst with the given mode.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)

		return err
	}

	return out.Close()
}

// verifyFunc runs a placed binary's self-check.
type verifyFunc func(ctx context.Context, path string) error

// engine owns the transactional guarantee over the final binary path.
type engine struct {
	m         mover
	finalPath string
	verify    verifyFunc
	now       func() time.Time
}

// upgrade replaces the binary at finalPath with the staged one.
//
// The protocol, in strict order: vacate the current binary by renaming it
// to a backup name, rename the staged binary into place, verify it, then
// delete the backup. Renaming is used instead of copy-then-truncate because
// a rename detaches the name from the inode without invalidating open
// process images, so the path always holds exactly one of old binary,
// nothing-with-backup-present, or new binary.
func (e *engine) upgrade(ctx context.Context, stagedPath string) error {
	backupPath := e.finalPath + ".backup-" + e.now().UTC().Format(backupTimeFormat)

	// Vacate.
	if err := e.m.Rename(ctx, e.finalPath, backupPath); err != nil {
		return fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	logger.InfoKV(ctx, "Vacated current binary", "backup", backupPath)

	// Install.
	if err := e.m.Rename(ctx, stagedPath, e.finalPath); err != nil {
		return e.rollback(ctx, backupPath, fmt.Errorf("install new binary: %w", err))
	}

	// Verify.
	if err := e.verify(ctx, e.finalPath); err != nil {
		return e.rollback(ctx, backupPath, fmt.Errorf("%w: %w", ErrVerificationFailed, err))
	}

	// Commit. A stray backup file is a cleanliness issue, not a
	// correctness one.
	if err := e.m.Remove(ctx, backupPath); err != nil {
		logger.WarnKV(ctx, "Could not remove backup after successful upgrade",
			"path", backupPath, "error", err)
	}

	return nil
}

// rollback restores the vacated binary. If the restore rename itself fails
// the error escalates to RestoreError, since the system now has no binary
// at the expected path.
func (e *engine) rollback(ctx context.Context, backupPath string, cause error) error {
	logger.WarnKV(ctx, "Rolling back to previous binary",
		"backup", backupPath, "cause", cause)

	if err := e.m.Rename(ctx, backupPath, e.finalPath); err != nil {
		restoreErr := &RestoreError{
			BackupPath:   backupPath,
			RestoreCause: err,
			Cause:        cause,
		}

		logger.ErrorKV(ctx, "ROLLBACK FAILED — manual intervention required",
			"last_good_binary", backupPath, "error", err)

		return restoreErr
	}

	return cause
}

// freshInstall places the payload at finalPath when nothing was installed
// before. No backup is created because there is nothing to roll back to.
func (e *engine) freshInstall(ctx context.Context, payloadPath string, elevated bool) error {
	dir := filepath.Dir(e.finalPath)

	if err := e.m.MkdirAll(ctx, dir); err != nil {
		return fmt.Errorf("create installation directory %s: %w", dir, err)
	}

	if elevated {
		if err := e.m.Copy(ctx, payloadPath, e.finalPath, 0o755); err != nil {
			return fmt.Errorf("place binary: %w", err)
		}
	} else if err := e.applyPayload(payloadPath); err != nil {
		return fmt.Errorf("place binary: %w", err)
	}

	if err := e.verify(ctx, e.finalPath); err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	return nil
}

// applyPayload writes the payload through go-update, which stages next to
// the target and swaps by rename. The target is pre-created when missing
// because Apply replaces an existing file.
func (e *engine) applyPayload(payloadPath string) error {
	data, err := os.ReadFile(filepath.Clean(payloadPath))
	if err != nil {
		return err
	}

	if _, err = os.Stat(e.finalPath); err != nil && os.IsNotExist(err) {
		var f *os.File

		if f, err = os.Create(e.finalPath); err != nil {
			return err
		}

		if err = f.Close(); err != nil {
			return err
		}
	}

	options := goupdate.Options{
		TargetPath: e.finalPath,
		TargetMode: 0o755,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return err
	}

	oldFileName := e.finalPath + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}
