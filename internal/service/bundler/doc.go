// Package bundler folds transitively referenced projects into an existing
// deployment archive.
//
// It resolves the root manifest's reference closure, stages every referenced
// project tree into a fresh archive, rewrites the root manifest's reference
// declarations to their in-archive locations, and commits the result with an
// atomic swap. A marker file guards each archive against concurrent bundling.
package bundler
