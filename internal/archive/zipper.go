package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/okuzmin/refbundler/internal/logger"
)

// Filter reports whether a directory entry should be skipped while zipping.
// relPath is slash-separated and relative to the source directory.
type Filter func(relPath string, isDir bool) bool

// Supported language names for exclusion filters.
const (
	LangDotnet = "dotnet"
	LangNode   = "node"
	LangPython = "python"
)

// LanguageFilter returns the conventional exclusion filter for a language:
// dependency and build-output folders the deployment platform rebuilds anyway.
// Unknown languages get a filter that keeps everything.
func LanguageFilter(language string) Filter {
	switch strings.ToLower(language) {
	case LangDotnet:
		return func(relPath string, isDir bool) bool {
			base := baseName(relPath)
			return isDir && (base == "obj" || base == "bin")
		}
	case LangNode:
		return func(relPath string, isDir bool) bool {
			return isDir && strings.Contains(baseName(relPath), "node_modules")
		}
	case LangPython:
		return func(relPath string, isDir bool) bool {
			base := baseName(relPath)
			if isDir {
				return strings.Contains(base, "env")
			}

			return base == ".env"
		}
	default:
		return func(string, bool) bool { return false }
	}
}

// Zip writes the contents of sourceDir into a fresh archive at archivePath.
// Arcnames are slash-separated paths relative to sourceDir; entries matched
// by the filter are left out. The archive is flushed to durable storage
// before Zip returns.
func Zip(ctx context.Context, sourceDir, archivePath string, filter Filter) (err error) {
	if filter == nil {
		filter = func(string, bool) bool { return false }
	}

	file, err := os.Create(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("%w: create archive: %w", ErrIO, err)
	}

	zw := zip.NewWriter(file)
	fileClosed := false

	defer func() {
		if err == nil {
			return
		}

		if !fileClosed {
			err = multierr.Append(err, file.Close())
		}

		if removeErr := os.Remove(archivePath); removeErr != nil {
			err = multierr.Append(err, removeErr)
		}
	}()

	walkErr := filepath.WalkDir(sourceDir, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("%w: walk %s: %w", ErrIO, sourceDir, walkErr)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrIO, ctxErr)
		}

		if current == sourceDir {
			return nil
		}

		rel, relErr := filepath.Rel(sourceDir, current)
		if relErr != nil {
			return fmt.Errorf("%w: relativize %s: %w", ErrIO, current, relErr)
		}

		arcname := filepath.ToSlash(rel)

		if entry.IsDir() {
			if filter(arcname, true) {
				return fs.SkipDir
			}

			return nil
		}

		if !entry.Type().IsRegular() || filter(arcname, false) {
			return nil
		}

		return writeZipEntry(zw, arcname, current)
	})
	if walkErr != nil {
		_ = zw.Close()
		return walkErr
	}

	if err = zw.Close(); err != nil {
		return fmt.Errorf("%w: close archive: %w", ErrIO, err)
	}

	if err = file.Sync(); err != nil {
		return fmt.Errorf("%w: sync archive: %w", ErrIO, err)
	}

	fileClosed = true
	if err = file.Close(); err != nil {
		return fmt.Errorf("%w: close archive file: %w", ErrIO, err)
	}

	logger.InfoKV(ctx, "Created archive", "source", sourceDir, "archive", archivePath)

	return nil
}

// writeZipEntry copies one file from disk into the archive under arcname.
func writeZipEntry(zw *zip.Writer, arcname, sourcePath string) error {
	source, err := os.Open(filepath.Clean(sourcePath))
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrIO, sourcePath, err)
	}

	defer func() {
		_ = source.Close()
	}()

	writer, err := zw.Create(arcname)
	if err != nil {
		return fmt.Errorf("%w: create entry %s: %w", ErrIO, arcname, err)
	}

	if _, err := io.Copy(writer, source); err != nil {
		return fmt.Errorf("%w: write entry %s: %w", ErrIO, arcname, err)
	}

	return nil
}

// baseName returns the last element of a slash-separated path.
func baseName(relPath string) string {
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[i+1:]
	}

	return relPath
}
