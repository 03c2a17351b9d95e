// Package manifest parses dotnet project manifests and rewrites their
// reference declarations.
//
// Parsing models only the ItemGroup/ProjectReference elements; rewriting is a
// literal text substitution that preserves every byte the parser does not
// understand.
package manifest
