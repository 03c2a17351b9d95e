package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okuzmin/refbundler/internal/manifest"
)

// writeProject creates <base>/<name>/<name>.csproj declaring the provided references.
func writeProject(t *testing.T, base, name string, references ...string) string {
	t.Helper()

	dir := filepath.Join(base, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	contents := "<Project Sdk=\"Microsoft.NET.Sdk\">\n"
	for _, reference := range references {
		contents += fmt.Sprintf("  <ItemGroup><ProjectReference Include=\"%s\" /></ItemGroup>\n", reference)
	}
	contents += "</Project>\n"

	path := filepath.Join(dir, name+".csproj")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return dir
}

// TestResolveChain verifies the App -> Lib -> Util scenario splits direct and transitive sets.
func TestResolveChain(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj")
	writeProject(t, base, "Lib", "../Util/Util.csproj")
	writeProject(t, base, "Util")

	result, err := Resolve(context.Background(), rootDir, manifest.NewParser(".csproj"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(rootDir, "App.csproj"), result.RootManifest)
	require.Equal(t, []string{"../Lib/Lib.csproj"}, result.Direct)
	require.Equal(t, []string{"../Util/Util.csproj"}, result.Transitive)
	require.Len(t, result.All(), 2)
}

// TestResolveCycle verifies termination on cyclic graphs and that the root
// never appears in its own closure.
func TestResolveCycle(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	// App -> Lib -> Util -> Lib and Util -> App.
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj")
	writeProject(t, base, "Lib", "../Util/Util.csproj")
	writeProject(t, base, "Util", "../Lib/Lib.csproj", "../App/App.csproj")

	result, err := Resolve(context.Background(), rootDir, manifest.NewParser(".csproj"))
	require.NoError(t, err)
	require.Equal(t, []string{"../Lib/Lib.csproj"}, result.Direct)
	require.Equal(t, []string{"../Util/Util.csproj"}, result.Transitive)
}

// TestResolveDuplicateEdges verifies a project reachable through several edges is listed once.
func TestResolveDuplicateEdges(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj", "../Util/Util.csproj")
	writeProject(t, base, "Lib", "../Shared/Shared.csproj")
	writeProject(t, base, "Util", "../Shared/Shared.csproj")
	writeProject(t, base, "Shared")

	result, err := Resolve(context.Background(), rootDir, manifest.NewParser(".csproj"))
	require.NoError(t, err)
	require.Equal(t, []string{"../Lib/Lib.csproj", "../Util/Util.csproj"}, result.Direct)
	require.Equal(t, []string{"../Shared/Shared.csproj"}, result.Transitive)
}

// TestResolveSeparatorAliases verifies Windows and POSIX spellings of one path
// each stay in Direct (both occur in the manifest's text and both must be
// substituted) while the referenced project is visited only once.
func TestResolveSeparatorAliases(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", `..\Lib\Lib.csproj`, "../Lib/Lib.csproj", `..\Lib\Lib.csproj`)
	writeProject(t, base, "Lib", "../Util/Util.csproj")
	writeProject(t, base, "Util")

	result, err := Resolve(context.Background(), rootDir, manifest.NewParser(".csproj"))
	require.NoError(t, err)
	require.Equal(t, []string{`..\Lib\Lib.csproj`, "../Lib/Lib.csproj"}, result.Direct)
	// The aliased project's own references are discovered once.
	require.Equal(t, []string{"../Util/Util.csproj"}, result.Transitive)
}

// TestResolveAmbiguousRoot verifies zero or multiple root manifests fail before traversal.
func TestResolveAmbiguousRoot(t *testing.T) {
	t.Parallel()

	parser := manifest.NewParser(".csproj")

	// Empty root directory.
	_, err := Resolve(context.Background(), t.TempDir(), parser)
	require.ErrorIs(t, err, ErrResolution)
	require.ErrorIs(t, err, manifest.ErrAmbiguousRoot)

	// Two manifests.
	base := t.TempDir()
	rootDir := writeProject(t, base, "App")
	require.NoError(t, os.WriteFile(filepath.Join(rootDir, "Second.csproj"), []byte("<Project/>"), 0o600))

	_, err = Resolve(context.Background(), rootDir, parser)
	require.ErrorIs(t, err, manifest.ErrAmbiguousRoot)
}

// TestResolveMalformedReference verifies broken markup in a referenced manifest propagates.
func TestResolveMalformedReference(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	rootDir := writeProject(t, base, "App", "../Lib/Lib.csproj")
	libDir := filepath.Join(base, "Lib")
	require.NoError(t, os.MkdirAll(libDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "Lib.csproj"), []byte("<Project><Item"), 0o600))

	_, err := Resolve(context.Background(), rootDir, manifest.NewParser(".csproj"))
	require.ErrorIs(t, err, ErrResolution)
	require.ErrorIs(t, err, manifest.ErrMalformed)
}
