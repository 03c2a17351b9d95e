package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okuzmin/refbundler/internal/archive"
	"github.com/okuzmin/refbundler/internal/config"
	"github.com/okuzmin/refbundler/internal/logger"
	"github.com/okuzmin/refbundler/internal/service/bundler"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional path to bundling settings (defaults to refbundler-settings.yaml).
	ConfigPath string
	// SourceDir is the project directory to package.
	SourceDir string
	// Language selects the exclusion filter applied while zipping
	// (dotnet, node, python); anything else keeps the full tree.
	Language string
	// OutputPath is the archive destination; empty picks a path in the
	// system temporary directory named after the source directory.
	OutputPath string
}

// Run packages the source tree into a deployment archive and, for dotnet
// projects, folds local project references into it. Bundling is best-effort:
// its failure degrades to shipping the archive without cross-project
// references, never to a packaging failure. Returns the archive path.
func Run(ctx context.Context, opts *Options) (string, error) {
	ctx = logger.WithName(ctx, "packager")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return "", err
	}

	sourceDir, err := filepath.Abs(opts.SourceDir)
	if err != nil {
		return "", fmt.Errorf("resolve source directory: %w", err)
	}

	archivePath := opts.OutputPath
	if archivePath == "" {
		archivePath = filepath.Join(os.TempDir(), filepath.Base(sourceDir)+".zip")
	}

	logger.InfoKV(ctx, "Packaging source tree",
		"source", sourceDir,
		"archive", archivePath,
		"language", opts.Language)

	if err = archive.Zip(ctx, sourceDir, archivePath, archive.LanguageFilter(opts.Language)); err != nil {
		return "", err
	}

	if strings.EqualFold(opts.Language, archive.LangDotnet) {
		if err = bundler.Bundle(ctx, cfg, sourceDir, archivePath); err != nil {
			// The unbundled archive stays deployable; surface a warning only.
			logger.WarnKV(ctx, "Analysing and bundling project references failed, deploying the archive without them",
				"error", err)
		}
	}

	logger.InfoKV(ctx, "Packaging completed", "archive", archivePath)

	return archivePath, nil
}
