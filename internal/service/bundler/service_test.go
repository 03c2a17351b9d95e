package bundler

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okuzmin/refbundler/internal/archive"
	"github.com/okuzmin/refbundler/internal/config"
	"github.com/okuzmin/refbundler/internal/manifest"
	"github.com/okuzmin/refbundler/internal/resolver"
)

// writeProject creates <base>/<name> with a manifest declaring the references
// and an extra source file.
func writeProject(t *testing.T, base, name string, references ...string) string {
	t.Helper()

	dir := filepath.Join(base, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	contents := "<Project Sdk=\"Microsoft.NET.Sdk\">\n  <!-- generated for tests -->\n"
	for _, reference := range references {
		contents += fmt.Sprintf("  <ItemGroup><ProjectReference Include=%q /></ItemGroup>\n", reference)
	}
	contents += "</Project>\n"

	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".csproj"), []byte(contents), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".cs"), []byte("class "+name+" {}"), 0o600))

	return dir
}

// zipProject builds the initial deployment archive for the project directory.
func zipProject(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.zip")
	require.NoError(t, archive.Zip(context.Background(), dir, path, archive.LanguageFilter(archive.LangDotnet)))

	return path
}

// archiveEntries reads an archive and maps every entry name to its contents.
func archiveEntries(t *testing.T, path string) map[string]string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	entries := make(map[string]string, len(reader.File))

	for _, entry := range reader.File {
		rc, err := entry.Open()
		require.NoError(t, err)

		contents, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		entries[entry.Name] = string(contents)
	}

	return entries
}

// TestBundleChain runs the App -> Lib -> Util scenario end to end.
func TestBundleChain(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj")
	writeProject(t, base, "Lib", "../Util/Util.csproj")
	writeProject(t, base, "Util")

	archivePath := zipProject(t, rootDir)

	require.NoError(t, Bundle(context.Background(), config.Default(), rootDir, archivePath))

	entries := archiveEntries(t, archivePath)

	// Both projects folded in with sources and backups.
	require.Contains(t, entries, "references/Lib/Lib.csproj")
	require.Contains(t, entries, "references/Lib/Lib.cs")
	require.Contains(t, entries, "references/Lib/Lib.csproj.bak")
	require.Contains(t, entries, "references/Util/Util.csproj")
	require.Contains(t, entries, "references/Util/Util.csproj.bak")

	// Root manifest rewritten, backup kept, other entries carried forward.
	require.Contains(t, entries["App.csproj"], "references/Lib/Lib.csproj")
	require.NotContains(t, entries["App.csproj"], "../Lib/Lib.csproj")
	require.Contains(t, entries["App.csproj"], "<!-- generated for tests -->")
	require.Contains(t, entries["App.csproj.bak"], "../Lib/Lib.csproj")
	require.Contains(t, entries, "App.cs")

	// The transitive reference is not a substitution target.
	require.NotContains(t, entries["App.csproj"], "references/Util/Util.csproj")

	// No staging leftovers.
	_, err := os.Stat(archivePath + stagingSuffix)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestBundleAliasedSpellings verifies a project referenced under both Windows
// and POSIX separators has each spelling rewritten while being staged once.
func TestBundleAliasedSpellings(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", `..\Lib\Lib.csproj`, "../Lib/Lib.csproj")
	writeProject(t, base, "Lib")

	archivePath := zipProject(t, rootDir)

	require.NoError(t, Bundle(context.Background(), config.Default(), rootDir, archivePath))

	entries := archiveEntries(t, archivePath)
	require.Contains(t, entries, "references/Lib/Lib.csproj")
	require.Contains(t, entries, "references/Lib/Lib.csproj.bak")

	// Both spellings point into the archive afterwards.
	require.NotContains(t, entries["App.csproj"], `..\Lib\Lib.csproj`)
	require.NotContains(t, entries["App.csproj"], "../Lib/Lib.csproj")
	require.Equal(t, 2, strings.Count(entries["App.csproj"], "references/Lib/Lib.csproj"))
}

// TestBundleNoReferences verifies an unreferenced project leaves the archive untouched.
func TestBundleNoReferences(t *testing.T) {
	t.Parallel()

	rootDir := writeProject(t, t.TempDir(), "App")
	archivePath := zipProject(t, rootDir)

	before, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	require.NoError(t, Bundle(context.Background(), config.Default(), rootDir, archivePath))

	after, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestBundleAmbiguousRoot verifies resolution fails before the archive is touched.
func TestBundleAmbiguousRoot(t *testing.T) {
	t.Parallel()

	rootDir := writeProject(t, t.TempDir(), "App")
	require.NoError(t, os.WriteFile(filepath.Join(rootDir, "Second.csproj"), []byte("<Project/>"), 0o600))

	archivePath := zipProject(t, rootDir)

	before, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	err = Bundle(context.Background(), config.Default(), rootDir, archivePath)
	require.ErrorIs(t, err, resolver.ErrResolution)
	require.ErrorIs(t, err, manifest.ErrAmbiguousRoot)

	after, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestBundleMalformedReference verifies the archive survives a malformed
// referenced manifest bit-for-bit.
func TestBundleMalformedReference(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj")
	libDir := filepath.Join(base, "Lib")
	require.NoError(t, os.MkdirAll(libDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "Lib.csproj"), []byte("<Project><Broken"), 0o600))

	archivePath := zipProject(t, rootDir)

	before, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	err = Bundle(context.Background(), config.Default(), rootDir, archivePath)
	require.ErrorIs(t, err, manifest.ErrMalformed)

	after, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestBundleMarkerGuard verifies a fresh marker blocks a second bundling run.
func TestBundleMarkerGuard(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj")
	writeProject(t, base, "Lib")

	archivePath := zipProject(t, rootDir)

	markerPath := archivePath + markerSuffix
	require.NoError(t, os.WriteFile(markerPath, []byte("424242"), 0o600))

	err := Bundle(context.Background(), config.Default(), rootDir, archivePath)
	require.ErrorIs(t, err, errBundleInProgress)

	// A stale marker is recovered and bundling proceeds.
	past := time.Now().Add(-2 * markerLifetime)
	require.NoError(t, os.Chtimes(markerPath, past, past))

	require.NoError(t, Bundle(context.Background(), config.Default(), rootDir, archivePath))

	// Marker released after the run.
	_, err = os.Stat(markerPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunLoadsSettings verifies the Run entry point honors a settings file.
func TestRunLoadsSettings(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj")
	writeProject(t, base, "Lib")

	archivePath := zipProject(t, rootDir)

	configPath := filepath.Join(base, "settings.yaml")
	require.NoError(t, config.Save(configPath, &config.Config{ReferencesDir: "deps"}))

	require.NoError(t, Run(context.Background(), &Options{
		ConfigPath:  configPath,
		RootDir:     rootDir,
		ArchivePath: archivePath,
	}))

	entries := archiveEntries(t, archivePath)
	require.Contains(t, entries, "deps/Lib/Lib.csproj")
	require.Contains(t, entries["App.csproj"], "deps/Lib/Lib.csproj")
}
