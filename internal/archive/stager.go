package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/okuzmin/refbundler/internal/logger"
	"github.com/okuzmin/refbundler/internal/resolver"
)

// ErrIO classifies any read, write or rename failure on either archive.
var ErrIO = errors.New("archive i/o failure")

// StagerOptions configures how referenced projects are folded into the staging archive.
type StagerOptions struct {
	// RootDir is the root project directory reference paths resolve against.
	RootDir string
	// ReferencesDir is the fixed top-level archive folder receiving referenced trees.
	ReferencesDir string
	// BackupSuffix is appended to manifest arcnames to store unmodified copies.
	BackupSuffix string
	// ExcludedDirs lists directory names skipped while walking referenced projects.
	ExcludedDirs []string
}

// Stager assembles the corrected archive. Referenced project trees are staged
// first, then Finalize folds the original archive's entries in and commits the
// result with an atomic swap. Until that swap the staging file is owned
// exclusively by the Stager and the original archive is never written to.
type Stager struct {
	file *os.File
	zw   *zip.Writer
	path string
	opts StagerOptions

	// excluded holds ExcludedDirs as a set.
	excluded map[string]struct{}
	// stagedManifests tracks normalized manifest paths already staged.
	stagedManifests map[string]struct{}
	// stagedDirs tracks project directories whose trees were already walked.
	stagedDirs map[string]struct{}
	// arcnames guards entry-name uniqueness within this staging pass.
	arcnames map[string]struct{}
	// rewrites maps verbatim direct-reference strings to their in-archive paths.
	rewrites map[string]string

	committed    bool
	writerClosed bool
	fileClosed   bool
}

// NewStager creates the staging archive file at stagingPath.
func NewStager(stagingPath string, opts StagerOptions) (*Stager, error) {
	file, err := os.Create(filepath.Clean(stagingPath))
	if err != nil {
		return nil, fmt.Errorf("%w: create staging archive: %w", ErrIO, err)
	}

	excluded := make(map[string]struct{}, len(opts.ExcludedDirs))
	for _, name := range opts.ExcludedDirs {
		excluded[name] = struct{}{}
	}

	return &Stager{
		file:            file,
		zw:              zip.NewWriter(file),
		path:            stagingPath,
		opts:            opts,
		excluded:        excluded,
		stagedManifests: make(map[string]struct{}),
		stagedDirs:      make(map[string]struct{}),
		arcnames:        make(map[string]struct{}),
		rewrites:        make(map[string]string),
	}, nil
}

// Path returns the staging archive location.
func (s *Stager) Path() string {
	return s.path
}

// Rewrites returns the accumulated direct-reference substitution map.
func (s *Stager) Rewrites() map[string]string {
	return s.rewrites
}

// AddReference folds one referenced project into the staging archive:
// the containing directory's file tree lands under
// <references>/<dir-base>/..., excluding build-output folders, and the
// manifest itself is written a second time under its rewritten path plus the
// backup suffix. Direct references additionally record their substitution in
// the rewrite map. Staging is idempotent per normalized manifest path, so a
// project reachable through several edges is folded in exactly once.
func (s *Stager) AddReference(ctx context.Context, reference string, direct bool) error {
	manifestPath, err := filepath.Abs(resolver.ResolvePath(s.opts.RootDir, reference))
	if err != nil {
		return fmt.Errorf("%w: resolve reference %s: %w", ErrIO, reference, err)
	}

	projectDir := filepath.Dir(manifestPath)

	manifestRel, err := filepath.Rel(projectDir, manifestPath)
	if err != nil {
		return fmt.Errorf("%w: relativize %s: %w", ErrIO, manifestPath, err)
	}

	manifestArc := path.Join(s.opts.ReferencesDir, filepath.Base(projectDir), filepath.ToSlash(manifestRel))

	if direct {
		s.rewrites[reference] = manifestArc
	}

	if _, ok := s.stagedManifests[manifestPath]; ok {
		return nil
	}

	s.stagedManifests[manifestPath] = struct{}{}

	if _, ok := s.stagedDirs[projectDir]; !ok {
		s.stagedDirs[projectDir] = struct{}{}

		if err := s.stageTree(ctx, projectDir); err != nil {
			return err
		}
	}

	// Unmodified manifest copy for audit and recovery.
	if err := s.writeFileEntry(manifestArc+s.opts.BackupSuffix, manifestPath); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Staged referenced project",
		"reference", reference,
		"arcname", manifestArc,
		"direct", direct)

	return nil
}

// stageTree writes every file beneath projectDir into the staging archive,
// skipping excluded build-output directories.
func (s *Stager) stageTree(ctx context.Context, projectDir string) error {
	base := filepath.Base(projectDir)

	return filepath.WalkDir(projectDir, func(current string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %w", ErrIO, projectDir, err)
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}

		if entry.IsDir() {
			if _, skip := s.excluded[entry.Name()]; skip && current != projectDir {
				return fs.SkipDir
			}

			return nil
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(projectDir, current)
		if err != nil {
			return fmt.Errorf("%w: relativize %s: %w", ErrIO, current, err)
		}

		arcname := path.Join(s.opts.ReferencesDir, base, filepath.ToSlash(rel))

		return s.writeFileEntry(arcname, current)
	})
}

// writeFileEntry copies one file from disk into the staging archive under arcname.
func (s *Stager) writeFileEntry(arcname, sourcePath string) error {
	if err := s.claimArcname(arcname); err != nil {
		return err
	}

	source, err := os.Open(filepath.Clean(sourcePath))
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrIO, sourcePath, err)
	}

	defer func() {
		_ = source.Close()
	}()

	writer, err := s.zw.Create(arcname)
	if err != nil {
		return fmt.Errorf("%w: create entry %s: %w", ErrIO, arcname, err)
	}

	if _, err := io.Copy(writer, source); err != nil {
		return fmt.Errorf("%w: write entry %s: %w", ErrIO, arcname, err)
	}

	return nil
}

// writeTextEntry stores raw contents into the staging archive under arcname.
func (s *Stager) writeTextEntry(arcname string, contents []byte) error {
	if err := s.claimArcname(arcname); err != nil {
		return err
	}

	writer, err := s.zw.Create(arcname)
	if err != nil {
		return fmt.Errorf("%w: create entry %s: %w", ErrIO, arcname, err)
	}

	if _, err := writer.Write(contents); err != nil {
		return fmt.Errorf("%w: write entry %s: %w", ErrIO, arcname, err)
	}

	return nil
}

// claimArcname reserves an entry name, enforcing uniqueness within the pass.
func (s *Stager) claimArcname(arcname string) error {
	if _, ok := s.arcnames[arcname]; ok {
		return fmt.Errorf("%w: duplicate archive entry %s", ErrIO, arcname)
	}

	s.arcnames[arcname] = struct{}{}

	return nil
}

// Abort discards the staging archive. It is a no-op after a committed Finalize.
func (s *Stager) Abort() error {
	if s.committed {
		return nil
	}

	var err error

	if !s.writerClosed {
		s.writerClosed = true
		err = multierr.Append(err, s.zw.Close())
	}

	if !s.fileClosed {
		s.fileClosed = true
		err = multierr.Append(err, s.file.Close())
	}

	if removeErr := os.Remove(s.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		err = multierr.Append(err, removeErr)
	}

	if err != nil {
		return fmt.Errorf("%w: abort staging archive: %w", ErrIO, err)
	}

	return nil
}
