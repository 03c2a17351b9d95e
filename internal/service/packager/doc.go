// Package packager builds the deployment archive for a source tree.
//
// It zips the tree with language-specific exclusions and, for dotnet
// projects, bundles local project references into the archive on a
// best-effort basis: a bundling failure leaves the plain archive as the
// deployable artifact.
package packager
