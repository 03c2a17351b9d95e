package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/okuzmin/refbundler/internal/logger"
	"github.com/okuzmin/refbundler/internal/manifest"
)

// ErrResolution wraps any failure raised while computing the reference closure.
var ErrResolution = errors.New("resolve project references")

// Result describes the reference closure of a root project.
type Result struct {
	// RootManifest is the absolute path of the root project manifest.
	RootManifest string
	// Direct holds the root manifest's own reference declarations, verbatim.
	// Only these appear as keys of the path rewrite map later on, so every
	// distinct spelling is kept even when two spellings denote the same file.
	Direct []string
	// Transitive holds references reachable only through other references.
	// The root manifest's text never mentions them, so they are staged but
	// never substituted.
	Transitive []string
}

// All returns every reference in the closure, direct first.
func (r *Result) All() []string {
	all := make([]string, 0, len(r.Direct)+len(r.Transitive))
	all = append(all, r.Direct...)
	all = append(all, r.Transitive...)

	return all
}

// Resolve locates the single root manifest inside rootDir and computes the
// transitive closure of its project references.
//
// Reference strings are kept verbatim (they are substitution targets), while
// visiting is keyed by the cleaned path so duplicate edges and cycles are
// processed once. A direct reference declared under several spellings keeps
// each spelling in Direct, since each occurs in the root manifest's text. Every reference string, including those found in
// transitively reached manifests, resolves against rootDir. The traversal
// uses an explicit work queue with a seen-before-enqueue discipline, so
// cyclic graphs terminate without depth limits and the root itself never
// appears in its own closure.
func Resolve(ctx context.Context, rootDir string, parser *manifest.Parser) (*Result, error) {
	rootManifest, err := parser.FindRoot(rootDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	direct, err := parser.References(rootManifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	result := &Result{RootManifest: rootManifest}

	rootKey, err := normalize(rootDir, filepath.Base(rootManifest))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	seen := map[string]struct{}{rootKey: {}}
	verbatim := make(map[string]struct{}, len(direct))

	var queue []string

	for _, reference := range direct {
		// Direct references dedup on the verbatim string: the same file
		// declared under two spellings needs both spellings substituted.
		if _, ok := verbatim[reference]; ok {
			continue
		}

		verbatim[reference] = struct{}{}

		key, err := normalize(rootDir, reference)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolution, err)
		}

		if key == rootKey {
			continue
		}

		result.Direct = append(result.Direct, reference)

		// Traversal and staging still dedup on the cleaned path.
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		queue = append(queue, reference)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolution, err)
		}

		reference := queue[0]
		queue = queue[1:]

		discovered, err := parser.References(ResolvePath(rootDir, reference))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrResolution, reference, err)
		}

		for _, next := range discovered {
			key, err := normalize(rootDir, next)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrResolution, err)
			}

			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}
			result.Transitive = append(result.Transitive, next)
			queue = append(queue, next)
		}
	}

	// The traversal is set-valued; sort transitive entries so staging order
	// and archives are reproducible run to run.
	sort.Strings(result.Transitive)

	logger.DebugKV(ctx, "Resolved reference closure",
		"root", rootManifest,
		"direct", len(result.Direct),
		"transitive", len(result.Transitive))

	return result, nil
}

// ResolvePath maps a reference string to the filesystem location it denotes.
// Relative references resolve against the root project directory, matching
// how the manifests are laid out for bundling. Manifests authored on Windows
// keep backslash separators even when built elsewhere, so those are folded
// to the host separator first.
func ResolvePath(rootDir, reference string) string {
	ref := filepath.FromSlash(strings.ReplaceAll(reference, `\`, "/"))
	if filepath.IsAbs(ref) {
		return ref
	}

	return filepath.Join(rootDir, ref)
}

// normalize maps a reference string to its canonical identity for visit tracking.
func normalize(rootDir, reference string) (string, error) {
	return filepath.Abs(ResolvePath(rootDir, reference))
}
