package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okuzmin/refbundler/internal/archive"
	"github.com/okuzmin/refbundler/internal/config"
	"github.com/okuzmin/refbundler/internal/logger"
	"github.com/okuzmin/refbundler/internal/manifest"
	"github.com/okuzmin/refbundler/internal/resolver"
)

// Options contains inputs for the bundler entry point.
type Options struct {
	// ConfigPath is an optional path to bundling settings (defaults to refbundler-settings.yaml).
	ConfigPath string
	// RootDir is the root project directory containing exactly one manifest.
	RootDir string
	// ArchivePath is the already-built deployment archive to fold references into.
	ArchivePath string
}

// stagingSuffix names the staging archive next to the original.
const stagingSuffix = ".tmp"

// Run executes the bundling workflow with settings loaded from disk.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "bundler")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	return Bundle(ctx, cfg, opts.RootDir, opts.ArchivePath)
}

// Bundle folds every project transitively referenced by the root manifest
// into the archive: it resolves the reference closure, stages the referenced
// trees under the configured references folder, rewrites the root manifest's
// reference declarations, and atomically replaces the archive. A root project
// without references leaves the archive untouched. Any failure before the
// final swap leaves the archive exactly as it was.
func Bundle(ctx context.Context, cfg *config.Config, rootDir, archivePath string) (err error) {
	release, err := acquireMarker(ctx, archivePath)
	if err != nil {
		return err
	}

	defer release()

	parser := manifest.NewParser(cfg.ManifestExtension)

	result, err := resolver.Resolve(ctx, rootDir, parser)
	if err != nil {
		return err
	}

	if len(result.Direct) == 0 {
		logger.InfoKV(ctx, "Root project declares no references, nothing to bundle",
			"manifest", result.RootManifest)

		return nil
	}

	if _, err = os.Stat(archivePath); err != nil {
		return fmt.Errorf("%w: stat archive: %w", archive.ErrIO, err)
	}

	logger.InfoKV(ctx, "Bundling project references",
		"archive", archivePath,
		"direct", len(result.Direct),
		"transitive", len(result.Transitive))

	stager, err := archive.NewStager(archivePath+stagingSuffix, archive.StagerOptions{
		RootDir:       rootDir,
		ReferencesDir: cfg.ReferencesDir,
		BackupSuffix:  cfg.BackupSuffix,
		ExcludedDirs:  cfg.ExcludedDirs,
	})
	if err != nil {
		return err
	}

	// Abort is a no-op once Finalize commits.
	defer func() {
		if abortErr := stager.Abort(); abortErr != nil && err == nil {
			err = abortErr
		}
	}()

	for _, reference := range result.Direct {
		if err = stager.AddReference(ctx, reference, true); err != nil {
			return err
		}
	}

	for _, reference := range result.Transitive {
		if err = stager.AddReference(ctx, reference, false); err != nil {
			return err
		}
	}

	originalManifest, err := os.ReadFile(result.RootManifest)
	if err != nil {
		return fmt.Errorf("%w: read root manifest: %w", archive.ErrIO, err)
	}

	rewritten := manifest.Rewrite(string(originalManifest), stager.Rewrites())

	return stager.Finalize(ctx, archivePath, filepath.Base(result.RootManifest),
		originalManifest, rewritten)
}
