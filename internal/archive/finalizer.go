package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"os"

	"github.com/okuzmin/refbundler/internal/logger"
)

// Finalize completes the staging archive and atomically swaps it in for the
// original: it stores a backup of the pre-rewrite root manifest, writes the
// corrected manifest under the root manifest's archive name, copies every
// other entry of the original archive forward unchanged, flushes the staging
// file to durable storage, and only then replaces the original via the
// delete-and-rename pair. The swap is the only mutation external observers see.
//
// Any failure before the swap leaves the original archive bit-for-bit
// unchanged; the staging file is discarded and the error returned.
func (s *Stager) Finalize(ctx context.Context, originalArchive, rootArcname string,
	originalManifest []byte, rewrittenManifest string) (err error) {
	// Once the original archive is deleted the staging file is the only
	// complete copy left, so it must survive a failed rename.
	swapStarted := false

	defer func() {
		if err != nil && !swapStarted {
			err = multierrAbort(s, err)
		}
	}()

	// Backup of the root manifest as it was before rewriting.
	if err = s.writeTextEntry(rootArcname+s.opts.BackupSuffix, originalManifest); err != nil {
		return err
	}

	// The corrected manifest becomes the only copy under the original name.
	if err = s.writeTextEntry(rootArcname, []byte(rewrittenManifest)); err != nil {
		return err
	}

	if err = s.copyOriginalEntries(ctx, originalArchive, rootArcname); err != nil {
		return err
	}

	s.writerClosed = true
	if err = s.zw.Close(); err != nil {
		return fmt.Errorf("%w: close staging archive: %w", ErrIO, err)
	}

	// Flush before the swap so a crash cannot commit a truncated archive.
	if err = s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync staging archive: %w", ErrIO, err)
	}

	s.fileClosed = true
	if err = s.file.Close(); err != nil {
		return fmt.Errorf("%w: close staging file: %w", ErrIO, err)
	}

	if err = os.Remove(originalArchive); err != nil {
		return fmt.Errorf("%w: remove original archive: %w", ErrIO, err)
	}

	swapStarted = true

	if err = os.Rename(s.path, originalArchive); err != nil {
		return fmt.Errorf("%w: rename staging archive: %w", ErrIO, err)
	}

	s.committed = true

	logger.InfoKV(ctx, "Replaced archive with bundled version",
		"archive", originalArchive,
		"entries", len(s.arcnames))

	return nil
}

// copyOriginalEntries copies the raw bytes of every entry of the original
// archive into the staging archive, except the root manifest being replaced.
func (s *Stager) copyOriginalEntries(ctx context.Context, originalArchive, rootArcname string) error {
	reader, err := zip.OpenReader(originalArchive)
	if err != nil {
		return fmt.Errorf("%w: open original archive: %w", ErrIO, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}

		if entry.Name == rootArcname {
			continue
		}

		if err := s.claimArcname(entry.Name); err != nil {
			return err
		}

		// Raw copy: compressed bytes are carried over without recoding.
		if err := s.zw.Copy(entry); err != nil {
			return fmt.Errorf("%w: copy entry %s: %w", ErrIO, entry.Name, err)
		}
	}

	return nil
}

// multierrAbort discards the staging archive and attaches any cleanup failure
// to the primary error.
func multierrAbort(s *Stager, primary error) error {
	if abortErr := s.Abort(); abortErr != nil {
		return fmt.Errorf("%w (cleanup: %v)", primary, abortErr)
	}

	return primary
}
