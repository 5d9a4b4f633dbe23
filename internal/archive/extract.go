package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tycana/releases/internal/logger"
)

var (
	// ErrExtractionFailed indicates the archive could not be unpacked.
	ErrExtractionFailed = errors.New("archive extraction failed")

	// ErrExecutableNotFound indicates the archive did not contain the
	// expected binary directly at its root.
	ErrExecutableNotFound = errors.New("executable not found in archive")
)

// executableMode is applied when the archived file lacks the executable bit.
// A missing bit is a packaging quirk, not a corruption signal.
const executableMode os.FileMode = 0o755

// Executable is the binary payload located after extraction.
type Executable struct {
	// Path is the extracted file location under the destination directory.
	Path string
	// Mode is the file mode after any permission repair.
	Mode os.FileMode
}

// Extract unpacks a tar.gz archive into destinationDir and locates the file
// named binaryName directly at the archive root. Nested entries are written
// out but do not satisfy the lookup.
func Extract(ctx context.Context, archivePath, destinationDir, binaryName string) (*Executable, error) {
	archiveFile, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", archivePath, ErrExtractionFailed, err)
	}

	defer func() {
		_ = archiveFile.Close()
	}()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", archivePath, ErrExtractionFailed, err)
	}

	defer func() {
		_ = gzipReader.Close()
	}()

	if err = unpack(gzipReader, destinationDir); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", archivePath, ErrExtractionFailed, err)
	}

	return locate(ctx, destinationDir, binaryName)
}

// unpack writes every regular file of the tar stream under destinationDir,
// rejecting entries that would escape it.
func unpack(r io.Reader, destinationDir string) error {
	tarReader := tar.NewReader(r)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		name := filepath.Clean(header.Name)
		if name == "." || filepath.IsAbs(name) || name == ".." ||
			len(name) > 1 && name[0] == '.' && name[1] == '.' {
			continue
		}

		outputPath := filepath.Join(destinationDir, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(outputPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err = os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
				return err
			}

			if err = writeFile(tarReader, outputPath, header.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// Symlinks and device nodes are not expected in release archives.
			continue
		}
	}
}

// writeFile streams one tar entry to disk with the entry's mode.
func writeFile(r io.Reader, path string, mode os.FileMode) error {
	outputFile, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(outputFile, r); err != nil {
		_ = outputFile.Close()

		return err
	}

	return outputFile.Close()
}

// locate finds the binary at the destination root, repairs a missing
// executable bit, and runs a best-effort format sanity check.
func locate(ctx context.Context, destinationDir, binaryName string) (*Executable, error) {
	path := filepath.Join(destinationDir, binaryName)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", binaryName, ErrExecutableNotFound)
	}

	mode := info.Mode()
	if mode&0o111 == 0 {
		logger.InfoKV(ctx, "Repairing missing executable permission", "path", path)

		if err = os.Chmod(path, executableMode); err != nil {
			return nil, fmt.Errorf("repair executable permission: %w", err)
		}

		mode = executableMode
	}

	if err = sniffFormat(path); err != nil {
		// The heuristic may misfire on platforms we did not anticipate;
		// a failed check is a warning, not a hard failure.
		logger.WarnKV(ctx, "Executable format check failed", "path", path, "error", err)
	}

	return &Executable{
		Path: path,
		Mode: mode,
	}, nil
}

// Magic numbers of the executable formats tycana ships as.
var executableMagics = [][]byte{
	{0x7f, 'E', 'L', 'F'},    // ELF
	{0xcf, 0xfa, 0xed, 0xfe}, // Mach-O 64-bit
	{0xca, 0xfe, 0xba, 0xbe}, // Mach-O universal
	{'#', '!'},               // interpreter script
}

var errUnknownFormat = errors.New("unrecognized executable format")

// sniffFormat reads the file header and compares it against known
// executable magic numbers.
func sniffFormat(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = f.Close()
	}()

	header := make([]byte, 4)
	if _, err = io.ReadFull(f, header); err != nil {
		return err
	}

	for _, magic := range executableMagics {
		if bytes.HasPrefix(header, magic) {
			return nil
		}
	}

	return errUnknownFormat
}
