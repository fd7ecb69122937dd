package update

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gameupdater/internal/debug"
	appErrors "gameupdater/internal/errors"
)

// Suffixes of the sibling directories used while replacing an install.
const (
	StagingSuffix = ".staging"
	BackupSuffix  = ".old"
)

// Error variables for installer-specific errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrUnsafePath        = errors.New("archive entry escapes install directory")
	ErrSizeMismatch      = errors.New("extracted size does not match archive")
)

var (
	zipMagic  = []byte("PK\x03\x04")
	zipEmpty  = []byte("PK\x05\x06")
	gzipMagic = []byte{0x1f, 0x8b}
)

type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatZip
	formatTarGz
)

// Installer extracts an archive beside the live install directory and then
// swaps it into place.
type Installer struct {
	rename func(oldpath, newpath string) error
}

// NewInstaller returns an installer that uses os.Rename for the swap.
func NewInstaller() *Installer {
	return &Installer{rename: os.Rename}
}

// StagingDir returns the directory an archive is extracted into for installDir.
func StagingDir(installDir string) string {
	return filepath.Clean(installDir) + StagingSuffix
}

// BackupDir returns where the previous install is parked during the swap.
func BackupDir(installDir string) string {
	return filepath.Clean(installDir) + BackupSuffix
}

// Install extracts archivePath into a fresh staging directory and then
// replaces installDir with it. If the swap fails the previous install is
// restored. Cancellation observed before the swap leaves installDir untouched.
func (i *Installer) Install(ctx context.Context, archivePath, installDir string) (err error) {
	installDir = filepath.Clean(installDir)
	staging := StagingDir(installDir)
	log := debug.WithFields(map[string]any{"archive": archivePath, "install_dir": installDir})

	defer func() {
		if err == nil {
			return
		}
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			log.WithError(rmErr).Warn("remove staging directory")
		}
	}()

	if err := os.RemoveAll(staging); err != nil {
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("remove stale staging directory: %v", err), err)
	}

	format, err := detectFormat(archivePath)
	if err != nil {
		return err
	}

	log.Info("extracting archive")
	switch format {
	case formatZip:
		err = extractZip(ctx, archivePath, staging)
	case formatTarGz:
		err = extractTarGz(ctx, archivePath, staging)
	}
	if err != nil {
		return err
	}

	return i.swap(ctx, staging, installDir)
}

func (i *Installer) swap(ctx context.Context, staging, installDir string) error {
	rename := i.rename
	if rename == nil {
		rename = os.Rename
	}
	backup := BackupDir(installDir)
	log := debug.WithField("install_dir", installDir)

	if err := os.RemoveAll(backup); err != nil {
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("remove stale backup: %v", err), err)
	}
	if err := ctx.Err(); err != nil {
		return appErrors.New(appErrors.CodeInstall, "install cancelled before swap", err)
	}

	hadPrevious := false
	if _, err := os.Lstat(installDir); err == nil {
		if err := rename(installDir, backup); err != nil {
			return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("move current install aside: %v", err), err)
		}
		hadPrevious = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("stat install directory: %v", err), err)
	} else if err := os.MkdirAll(filepath.Dir(installDir), 0o755); err != nil { //nolint:gosec // G301
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("create install parent: %v", err), err)
	}

	restore := func() {
		if !hadPrevious {
			return
		}
		if err := rename(backup, installDir); err != nil {
			log.WithError(err).Error("restore previous install")
		}
	}

	if err := ctx.Err(); err != nil {
		restore()
		return appErrors.New(appErrors.CodeInstall, "install cancelled before swap", err)
	}
	if err := rename(staging, installDir); err != nil {
		restore()
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("move new install into place: %v", err), err)
	}

	if hadPrevious {
		if err := os.RemoveAll(backup); err != nil {
			log.WithError(err).Warn("remove previous install")
		}
	}
	log.Info("install swapped into place")
	return nil
}

func detectFormat(path string) (archiveFormat, error) {
	//nolint:gosec // G304: archive path comes from configuration or our own download
	f, err := os.Open(path)
	if err != nil {
		return formatUnknown, appErrors.New(appErrors.CodeInstall, fmt.Sprintf("open archive: %v", err), err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return formatUnknown, appErrors.New(appErrors.CodeInstall, fmt.Sprintf("read archive header: %v", err), err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, zipEmpty):
		return formatZip, nil
	case bytes.HasPrefix(header, gzipMagic):
		return formatTarGz, nil
	default:
		return formatUnknown, appErrors.New(appErrors.CodeInstall, fmt.Sprintf("%v: %s", ErrUnsupportedFormat, filepath.Base(path)), ErrUnsupportedFormat)
	}
}

// entryPath resolves an archive entry name inside root, rejecting absolute
// names and anything that climbs out of root.
func entryPath(root, name string) (string, error) {
	clean := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(clean, "/") || filepath.IsAbs(clean) || filepath.VolumeName(filepath.FromSlash(clean)) != "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func corrupt(err error) error {
	return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("archive is corrupt: %v", err), err)
}

func extractZip(ctx context.Context, archivePath, staging string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return corrupt(err)
	}
	// ErrInsecurePath still yields a usable reader; entryPath rejects the entry.
	defer func() { _ = zr.Close() }()

	//nolint:gosec // G301: staging tree mirrors the game install
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("create staging directory: %v", err), err)
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return appErrors.New(appErrors.CodeInstall, "install cancelled", err)
		}
		target, err := entryPath(staging, f.Name)
		if err != nil {
			return corrupt(err)
		}
		mode := f.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			debug.WithField("entry", f.Name).Warn("skipping symlink in archive")
			continue
		case f.FileInfo().IsDir():
			//nolint:gosec // G301
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("create directory %s: %v", f.Name, err), err)
			}
			continue
		case !mode.IsRegular():
			debug.WithField("entry", f.Name).Warn("skipping special file in archive")
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return corrupt(err)
		}
		written, err := writeEntry(target, rc, mode.Perm())
		_ = rc.Close()
		if err != nil {
			return err
		}
		if written != int64(f.UncompressedSize64) {
			return corrupt(fmt.Errorf("%w: %s wrote %d of %d bytes", ErrSizeMismatch, f.Name, written, f.UncompressedSize64))
		}
	}
	return nil
}

func extractTarGz(ctx context.Context, archivePath, staging string) error {
	//nolint:gosec // G304: archive path comes from configuration or our own download
	f, err := os.Open(archivePath)
	if err != nil {
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("open archive: %v", err), err)
	}
	defer func() { _ = f.Close() }()

	gzr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return corrupt(err)
	}
	defer func() { _ = gzr.Close() }()

	//nolint:gosec // G301: staging tree mirrors the game install
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("create staging directory: %v", err), err)
	}

	tr := tar.NewReader(gzr)
	for {
		if err := ctx.Err(); err != nil {
			return appErrors.New(appErrors.CodeInstall, "install cancelled", err)
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return corrupt(err)
		}

		target, err := entryPath(staging, header.Name)
		if err != nil {
			return corrupt(err)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			//nolint:gosec // G301
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErrors.New(appErrors.CodeInstall, fmt.Sprintf("create directory %s: %v", header.Name, err), err)
			}
		case tar.TypeReg:
			written, err := writeEntry(target, tr, os.FileMode(header.Mode).Perm())
			if err != nil {
				return err
			}
			if written != header.Size {
				return corrupt(fmt.Errorf("%w: %s wrote %d of %d bytes", ErrSizeMismatch, header.Name, written, header.Size))
			}
		case tar.TypeSymlink, tar.TypeLink:
			debug.WithField("entry", header.Name).Warn("skipping link in archive")
		default:
			debug.WithFields(map[string]any{"entry": header.Name, "type": header.Typeflag}).Warn("skipping special file in archive")
		}
	}
}

func writeEntry(target string, r io.Reader, perm os.FileMode) (int64, error) {
	//nolint:gosec // G301
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, appErrors.New(appErrors.CodeInstall, fmt.Sprintf("create directory: %v", err), err)
	}
	if perm == 0 {
		perm = 0o644
	}
	//nolint:gosec // G304: target validated by entryPath
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return 0, appErrors.New(appErrors.CodeInstall, fmt.Sprintf("create %s: %v", filepath.Base(target), err), err)
	}
	//nolint:gosec // G110: artifact size is bounded by the archive's declared sizes
	n, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if copyErr != nil {
		return n, corrupt(copyErr)
	}
	if closeErr != nil {
		return n, appErrors.New(appErrors.CodeInstall, fmt.Sprintf("close %s: %v", filepath.Base(target), closeErr), closeErr)
	}
	return n, nil
}
